package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spatialworks/sta-provider/internal/core/config"
	"github.com/spatialworks/sta-provider/internal/core/model"
	"github.com/spatialworks/sta-provider/internal/core/observability"
	"github.com/spatialworks/sta-provider/internal/sta"
)

// CollectionProvider serves queries for one configured collection.
type CollectionProvider interface {
	Query(ctx context.Context, q model.QueryParams) (*model.FeatureSet, error)
	Get(ctx context.Context, entity sta.Entity, identifier string) (model.Record, error)
}

// Registry maps collection names to their providers.
type Registry struct {
	names     []string
	providers map[string]CollectionProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: map[string]CollectionProvider{}}
}

func (r *Registry) Add(name string, p CollectionProvider) {
	if _, dup := r.providers[name]; !dup {
		r.names = append(r.names, name)
	}
	r.providers[name] = p
}

func (r *Registry) Lookup(name string) (CollectionProvider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Names() []string { return append([]string(nil), r.names...) }

// query-string keys with a fixed meaning; anything else becomes an equality
// property filter
var reservedParams = map[string]struct{}{
	"limit": {}, "offset": {}, "bbox": {}, "datetime": {},
	"sortby": {}, "properties": {}, "skipGeometry": {},
	"resulttype": {}, "q": {}, "f": {},
}

// ListCollections serves the collection index.
func ListCollections(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type entry struct {
			Name string `json:"name"`
		}
		out := struct {
			Collections []entry `json:"collections"`
		}{Collections: []entry{}}
		for _, n := range reg.Names() {
			out.Collections = append(out.Collections, entry{Name: n})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// Items serves a collection query.
func Items(logger *slog.Logger, cfg config.Config, reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/collections/{collection}/items", sw.code, time.Since(start).Seconds())
		}()

		name := chi.URLParam(r, "collection")
		p, ok := reg.Lookup(name)
		if !ok {
			http.Error(sw, "unknown collection "+name, http.StatusNotFound)
			return
		}

		q, err := ParseQueryParams(r, cfg)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}

		fs, err := p.Query(r.Context(), q)
		if err != nil {
			logger.Error("collection query failed", "collection", name, "err", err)
			http.Error(sw, err.Error(), statusForError(err))
			return
		}

		out := featureCollection{
			Type:          "FeatureCollection",
			Features:      fs.Records,
			NumberMatched: fs.NumberMatched,
		}
		if out.Features == nil {
			out.Features = []model.Record{}
		}
		out.NumberReturned = len(fs.Records)
		writeJSON(sw, http.StatusOK, out)
	}
}

// Item serves a single record lookup.
func Item(logger *slog.Logger, reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/collections/{collection}/items/{id}", sw.code, time.Since(start).Seconds())
		}()

		name := chi.URLParam(r, "collection")
		p, ok := reg.Lookup(name)
		if !ok {
			http.Error(sw, "unknown collection "+name, http.StatusNotFound)
			return
		}

		rec, err := p.Get(r.Context(), "", chi.URLParam(r, "id"))
		if err != nil {
			logger.Error("record lookup failed", "collection", name, "err", err)
			http.Error(sw, err.Error(), statusForError(err))
			return
		}
		writeJSON(sw, http.StatusOK, rec)
	}
}

type featureCollection struct {
	Type           string         `json:"type"`
	Features       []model.Record `json:"features"`
	NumberMatched  *int           `json:"numberMatched,omitempty"`
	NumberReturned int            `json:"numberReturned"`
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseQueryParams validates the request query string and builds the
// provider query descriptor.
func ParseQueryParams(r *http.Request, cfg config.Config) (model.QueryParams, error) {
	values := r.URL.Query()
	q := model.QueryParams{
		Limit:      cfg.DefaultLimit,
		ResultType: model.ResultTypeResults,
	}

	if v := strings.TrimSpace(values.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return model.QueryParams{}, fmt.Errorf("invalid limit %q", v)
		}
		if cfg.MaxLimit > 0 && n > cfg.MaxLimit {
			n = cfg.MaxLimit
		}
		q.Limit = n
	}

	if v := strings.TrimSpace(values.Get("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return model.QueryParams{}, fmt.Errorf("invalid offset %q", v)
		}
		q.StartIndex = n
	}

	if v := strings.TrimSpace(values.Get("bbox")); v != "" {
		bb, err := parseBBox(v)
		if err != nil {
			return model.QueryParams{}, fmt.Errorf("invalid bbox: %w", err)
		}
		q.BBox = &bb
	}

	q.Datetime = strings.TrimSpace(values.Get("datetime"))
	q.Q = strings.TrimSpace(values.Get("q"))

	if v := strings.TrimSpace(values.Get("sortby")); v != "" {
		sb, err := parseSortBy(v)
		if err != nil {
			return model.QueryParams{}, err
		}
		q.SortBy = sb
	}

	if v := strings.TrimSpace(values.Get("properties")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				q.SelectProperties = append(q.SelectProperties, p)
			}
		}
	}

	if v := strings.TrimSpace(values.Get("skipGeometry")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return model.QueryParams{}, fmt.Errorf("invalid skipGeometry %q", v)
		}
		q.SkipGeometry = b
	}

	switch rt := strings.TrimSpace(values.Get("resulttype")); rt {
	case "", string(model.ResultTypeResults):
	case string(model.ResultTypeHits):
		q.ResultType = model.ResultTypeHits
	default:
		return model.QueryParams{}, fmt.Errorf("invalid resulttype %q", rt)
	}

	// remaining parameters are equality filters; sorted for stable output
	var names []string
	for k := range values {
		if _, reserved := reservedParams[k]; !reserved {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	for _, k := range names {
		q.Properties = append(q.Properties, model.PropertyFilter{Name: k, Value: values.Get(k)})
	}

	return q, nil
}

func parseBBox(raw string) (model.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return model.BBox{}, errors.New("expected 4 comma-separated values: minx,miny,maxx,maxy")
	}
	var c [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("coordinate %d: %w", i+1, err)
		}
		c[i] = f
	}
	bb := model.BBox{MinX: c[0], MinY: c[1], MaxX: c[2], MaxY: c[3]}
	if !(bb.MinX >= -180 && bb.MinX <= 180 && bb.MaxX >= -180 && bb.MaxX <= 180) {
		return model.BBox{}, errors.New("longitude must be in [-180,180]")
	}
	if !(bb.MinY >= -90 && bb.MinY <= 90 && bb.MaxY >= -90 && bb.MaxY <= 90) {
		return model.BBox{}, errors.New("latitude must be in [-90,90]")
	}
	if bb.MaxX <= bb.MinX || bb.MaxY <= bb.MinY {
		return model.BBox{}, errors.New("coordinates must satisfy maxx>minx and maxy>miny")
	}
	return bb, nil
}

func parseSortBy(raw string) ([]model.SortCriterion, error) {
	var out []model.SortCriterion
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		order := "+"
		switch part[0] {
		case '+', '-':
			order = string(part[0])
			part = part[1:]
		}
		if part == "" {
			return nil, errors.New("sortby entry has no property name")
		}
		out = append(out, model.SortCriterion{Property: part, Order: order})
	}
	if len(out) == 0 {
		return nil, errors.New("empty sortby")
	}
	return out, nil
}

func statusForError(err error) int {
	if errors.Is(err, sta.ErrNoTimeField) {
		return http.StatusBadRequest
	}
	if sta.IsNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
