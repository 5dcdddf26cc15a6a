package sta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spatialworks/sta-provider/internal/core/model"
	"github.com/spatialworks/sta-provider/internal/core/observability"
)

const defaultLimit = 10

// Definition configures one provider instance, typically decoded from the
// collections section of the service config.
type Definition struct {
	Name      string
	Data      string // STA base URL
	Entity    string
	TimeField string
	Expand    string
}

// Provider queries a single STA collection. It holds no per-call state; the
// shared http.Client pools connections but every logical call builds and
// releases its own requests.
type Provider struct {
	logger    *slog.Logger
	client    *http.Client
	baseURL   string
	entity    Entity
	timeField string
	expand    string
	startNow  func() time.Time // for tests
}

// New validates def and returns a Provider. Data and Entity are required.
func New(def Definition, client *http.Client, logger *slog.Logger) (*Provider, error) {
	if def.Data == "" || def.Entity == "" {
		return nil, fmt.Errorf("provider %q: data and entity are required", def.Name)
	}
	entity, err := ParseEntity(def.Entity)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", def.Name, err)
	}
	if _, err := url.Parse(def.Data); err != nil {
		return nil, fmt.Errorf("provider %q: parse data url: %w", def.Name, err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{
		logger:    logger,
		client:    client,
		baseURL:   strings.TrimRight(def.Data, "/"),
		entity:    entity,
		timeField: def.TimeField,
		expand:    def.Expand,
		startNow:  time.Now,
	}, nil
}

func (p *Provider) Entity() Entity { return p.entity }

// page is one STA response page.
type page struct {
	Value    []model.Record `json:"value"`
	Count    *int           `json:"@iot.count"`
	NextLink string         `json:"@iot.nextLink"`
}

// Query runs a collection query. Hits-only queries return just the matched
// count from the first response; otherwise continuation links are followed
// until min(limit, total count) records are accumulated or no link remains.
func (p *Provider) Query(ctx context.Context, q model.QueryParams) (*model.FeatureSet, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	params, err := p.requestParams(q, limit)
	if err != nil {
		return nil, err
	}

	first, err := p.fetchPage(ctx, p.collectionURL(p.entity), params)
	if err != nil {
		return nil, err
	}

	if q.ResultType == model.ResultTypeHits {
		return &model.FeatureSet{NumberMatched: first.Count}, nil
	}

	want := limit
	if first.Count != nil && *first.Count < want {
		want = *first.Count
	}

	records := first.Value
	next := first.NextLink
	for len(records) < want && next != "" {
		pg, err := p.fetchPage(ctx, next, nil)
		if err != nil {
			return nil, err
		}
		records = append(records, pg.Value...)
		next = pg.NextLink
	}
	if len(records) > want {
		records = records[:want]
	}
	return &model.FeatureSet{Records: records, NumberMatched: first.Count}, nil
}

// Get fetches a single record by identifier. An empty entity falls back to
// the configured collection entity.
func (p *Provider) Get(ctx context.Context, entity Entity, identifier string) (model.Record, error) {
	if entity == "" {
		entity = p.entity
	}
	params := url.Values{}
	if p.expand != "" {
		params.Set("$expand", p.expand)
	}
	body, err := p.do(ctx, fmt.Sprintf("%s(%s)", p.collectionURL(entity), identifier), params)
	if err != nil {
		return nil, err
	}
	var rec model.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Ping checks that the service root answers. Used by readiness probes.
func (p *Provider) Ping(ctx context.Context) error {
	_, err := p.do(ctx, p.baseURL, nil)
	return err
}

func (p *Provider) collectionURL(entity Entity) string {
	return p.baseURL + "/" + string(entity)
}

func (p *Provider) requestParams(q model.QueryParams, limit int) (url.Values, error) {
	params := url.Values{}
	params.Set("$skip", strconv.Itoa(q.StartIndex))
	params.Set("$top", strconv.Itoa(limit))
	params.Set("$count", "true")
	if p.expand != "" {
		params.Set("$expand", p.expand)
	}
	if len(q.Properties) > 0 || q.BBox != nil || q.Datetime != "" {
		filter, err := makeFilter(p.entity, p.timeField, q.Properties, q.BBox, q.Datetime)
		if err != nil {
			return nil, err
		}
		if filter != "" {
			params.Set("$filter", filter)
		}
	}
	if len(q.SortBy) > 0 {
		params.Set("$orderby", makeOrderby(q.SortBy))
	}
	if len(q.SelectProperties) > 0 {
		params.Set("$select", strings.Join(q.SelectProperties, ","))
	}
	return params, nil
}

func (p *Provider) fetchPage(ctx context.Context, rawurl string, params url.Values) (*page, error) {
	body, err := p.do(ctx, rawurl, params)
	if err != nil {
		return nil, err
	}
	var pg page
	if err := json.Unmarshal(body, &pg); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	observability.IncPageFetched(string(p.entity))
	return &pg, nil
}

// do issues one GET and returns the response body. Non-2xx statuses become a
// StatusError; nothing is retried.
func (p *Provider) do(ctx context.Context, rawurl string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}
	req.Header.Set("Accept", "application/json")

	start := p.startNow()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency(string(p.entity), dur.Seconds())
	p.logger.Debug("sta request done",
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"duration", dur.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &StatusError{URL: req.URL.Redacted(), StatusCode: resp.StatusCode, Body: string(b)}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}
