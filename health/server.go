package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the checker's aggregate NodeHealth snapshot as JSON,
// responding 503 when the overall status is not healthy, mirroring how
// the teacher's metrics package exposes Handler() for its own concern.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := c.Snapshot(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if snapshot.Status != StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	})
}

// StartServer starts a standalone health HTTP server at path on addr.
func (c *Checker) StartServer(addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, c.Handler())
	return http.ListenAndServe(addr, mux)
}
