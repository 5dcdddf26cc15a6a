// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// UpstreamProber checks that the upstream services behind the configured
// collections are reachable.
type UpstreamProber interface {
	Probe(ctx context.Context) map[string]error
}

// Readiness reports per-collection upstream reachability. Any failing probe
// makes the endpoint return 503.
func Readiness(p UpstreamProber, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		type resp struct {
			Status      string            `json:"status"`
			Collections map[string]string `json:"collections"`
		}
		out := resp{Status: "ready", Collections: map[string]string{}}
		for name, err := range p.Probe(ctx) {
			if err != nil {
				out.Status = "not_ready"
				out.Collections[name] = err.Error()
			} else {
				out.Collections[name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
