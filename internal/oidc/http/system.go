package http

import (
	"net/http"
	"time"

	"github.com/wintermoot/forumoidc/pkg/httpx"
)

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime,omitempty"`
}

func (r *Router) registerSystem() {
	r.Mux.HandleFunc("GET /livez", func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, healthResponse{
			Status: "ok",
			Uptime: time.Since(r.startTime).Round(time.Second).String(),
		})
	})

	r.Mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := r.store.Ping(req.Context()); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})
}
