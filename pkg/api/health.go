package api

import (
	"net/http"

	"github.com/cuemby/terrapool/pkg/metrics"
)

func (s *Server) registerHealth() {
	s.mux.HandleFunc("GET /health", metrics.HealthHandler())
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// readyHandler refreshes the storage check before reporting readiness
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store != nil {
		if err := s.opts.Store.Ping(); err != nil {
			metrics.UpdateComponent(metrics.ComponentStorage, false, err.Error())
		} else {
			metrics.UpdateComponent(metrics.ComponentStorage, true, "")
		}
	}
	metrics.ReadyHandler()(w, r)
}
