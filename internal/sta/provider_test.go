package sta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spatialworks/sta-provider/internal/core/model"
)

// fakeSTA serves canned pages keyed by request path+query and records every
// request it saw.
type fakeSTA struct {
	mu       sync.Mutex
	requests []*http.Request
	handler  http.HandlerFunc
}

func (f *fakeSTA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(context.Background()))
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeSTA) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeSTA) request(i int) *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func writePage(w http.ResponseWriter, count int, next string, ids ...int) {
	records := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		records = append(records, map[string]any{"@iot.id": id})
	}
	page := map[string]any{
		"value":      records,
		"@iot.count": count,
	}
	if next != "" {
		page["@iot.nextLink"] = next
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(page)
}

func newTestProvider(t *testing.T, def Definition, baseURL string) *Provider {
	t.Helper()
	if def.Data == "" {
		def.Data = baseURL
	}
	if def.Entity == "" {
		def.Entity = "Things"
	}
	if def.Name == "" {
		def.Name = "test"
	}
	p, err := New(def, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Definition{Entity: "Things"}, nil, nil); err == nil {
		t.Fatal("expected error for missing data")
	}
	if _, err := New(Definition{Data: "http://sta.local/v1.1"}, nil, nil); err == nil {
		t.Fatal("expected error for missing entity")
	}
	if _, err := New(Definition{Data: "http://sta.local/v1.1", Entity: "Widgets"}, nil, nil); err == nil {
		t.Fatal("expected error for unknown entity")
	}
}

func TestQuery_RequestParams(t *testing.T) {
	fake := &fakeSTA{handler: func(w http.ResponseWriter, _ *http.Request) {
		writePage(w, 0, "")
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := newTestProvider(t, Definition{
		Entity:    "Observations",
		TimeField: "phenomenonTime",
		Expand:    "FeatureOfInterest",
	}, srv.URL)

	_, err := p.Query(context.Background(), model.QueryParams{
		StartIndex:       2,
		Limit:            5,
		Datetime:         "2020-01-01/..",
		Properties:       []model.PropertyFilter{{Name: "Datastream", Value: "7"}},
		SortBy:           []model.SortCriterion{{Property: "result", Order: "-"}},
		SelectProperties: []string{"result", "phenomenonTime"},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if fake.count() != 1 {
		t.Fatalf("requests=%d want 1", fake.count())
	}
	r := fake.request(0)
	if r.URL.Path != "/Observations" {
		t.Fatalf("path=%q want /Observations", r.URL.Path)
	}
	q := r.URL.Query()
	assertParam := func(k, want string) {
		t.Helper()
		if got := q.Get(k); got != want {
			t.Fatalf("param %s=%q want %q", k, got, want)
		}
	}
	assertParam("$skip", "2")
	assertParam("$top", "5")
	assertParam("$count", "true")
	assertParam("$expand", "FeatureOfInterest")
	assertParam("$filter", "Datastream/@iot.id eq 7 and phenomenonTime ge 2020-01-01")
	assertParam("$orderby", "result desc")
	assertParam("$select", "result,phenomenonTime")
}

func TestQuery_FollowsPagination(t *testing.T) {
	var srvURL string
	fake := &fakeSTA{}
	fake.handler = func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "2":
			writePage(w, 7, srvURL+"/Things?page=3", 4, 5, 6)
		case "3":
			writePage(w, 7, "", 7)
		default:
			writePage(w, 7, srvURL+"/Things?page=2", 1, 2, 3)
		}
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	srvURL = srv.URL

	p := newTestProvider(t, Definition{}, srv.URL)

	fs, err := p.Query(context.Background(), model.QueryParams{Limit: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(fs.Records) != 5 {
		t.Fatalf("records=%d want min(limit, count)=5", len(fs.Records))
	}
	if fake.count() != 2 {
		t.Fatalf("requests=%d want 2 (stop once enough records)", fake.count())
	}
	if fs.NumberMatched == nil || *fs.NumberMatched != 7 {
		t.Fatalf("numberMatched=%v want 7", fs.NumberMatched)
	}
}

func TestQuery_TruncatesToTotalCount(t *testing.T) {
	var srvURL string
	fake := &fakeSTA{}
	fake.handler = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writePage(w, 4, "", 3, 4)
			return
		}
		writePage(w, 4, srvURL+"/Things?page=2", 1, 2)
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	srvURL = srv.URL

	p := newTestProvider(t, Definition{}, srv.URL)

	fs, err := p.Query(context.Background(), model.QueryParams{Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(fs.Records) != 4 {
		t.Fatalf("records=%d want total count 4", len(fs.Records))
	}
}

func TestQuery_StopsWithoutNextLink(t *testing.T) {
	fake := &fakeSTA{handler: func(w http.ResponseWriter, _ *http.Request) {
		// server claims 10 matches but supplies no continuation link
		writePage(w, 10, "", 1, 2)
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := newTestProvider(t, Definition{}, srv.URL)

	fs, err := p.Query(context.Background(), model.QueryParams{Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(fs.Records) != 2 {
		t.Fatalf("records=%d want 2", len(fs.Records))
	}
	if fake.count() != 1 {
		t.Fatalf("requests=%d want 1", fake.count())
	}
}

func TestQuery_Hits(t *testing.T) {
	fake := &fakeSTA{handler: func(w http.ResponseWriter, _ *http.Request) {
		writePage(w, 42, "ignored", 1, 2, 3)
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := newTestProvider(t, Definition{}, srv.URL)

	fs, err := p.Query(context.Background(), model.QueryParams{ResultType: model.ResultTypeHits})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if fs.NumberMatched == nil || *fs.NumberMatched != 42 {
		t.Fatalf("numberMatched=%v want 42", fs.NumberMatched)
	}
	if fs.Records != nil {
		t.Fatalf("records=%v want none for hits", fs.Records)
	}
	if fake.count() != 1 {
		t.Fatalf("requests=%d want 1 (no record fetching)", fake.count())
	}
}

func TestQuery_DatetimeWithoutTimeField(t *testing.T) {
	fake := &fakeSTA{handler: func(w http.ResponseWriter, _ *http.Request) {
		writePage(w, 0, "")
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := newTestProvider(t, Definition{}, srv.URL)

	_, err := p.Query(context.Background(), model.QueryParams{Datetime: "2020-01-01"})
	if !errors.Is(err, ErrNoTimeField) {
		t.Fatalf("err=%v want ErrNoTimeField", err)
	}
	if fake.count() != 0 {
		t.Fatalf("requests=%d want 0 (fail before fetching)", fake.count())
	}
}

func TestQuery_UpstreamStatusError(t *testing.T) {
	fake := &fakeSTA{handler: func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := newTestProvider(t, Definition{}, srv.URL)

	_, err := p.Query(context.Background(), model.QueryParams{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err=%v want *StatusError", err)
	}
	if se.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", se.StatusCode)
	}
}

func TestQuery_MalformedBody(t *testing.T) {
	fake := &fakeSTA{handler: func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := newTestProvider(t, Definition{}, srv.URL)

	if _, err := p.Query(context.Background(), model.QueryParams{}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestGet_ByIdentifier(t *testing.T) {
	fake := &fakeSTA{handler: func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Things(5)" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"@iot.id": 5, "name": "station"}`)
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := newTestProvider(t, Definition{}, srv.URL)

	rec, err := p.Get(context.Background(), "", "5")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec["name"] != "station" {
		t.Fatalf("record=%v", rec)
	}

	// unresolved identifier propagates the upstream error
	_, err = p.Get(context.Background(), "", "99")
	if !IsNotFound(err) {
		t.Fatalf("err=%v want upstream 404", err)
	}
}

func TestGet_EntityOverride(t *testing.T) {
	fake := &fakeSTA{handler: func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"path": %q}`, r.URL.Path)
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := newTestProvider(t, Definition{}, srv.URL)

	rec, err := p.Get(context.Background(), Sensors, "3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec["path"] != "/Sensors(3)" {
		t.Fatalf("path=%v want /Sensors(3)", rec["path"])
	}
}
