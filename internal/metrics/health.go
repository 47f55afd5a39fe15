package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/yourname/webcache/internal/cachestore"
)

type HealthHandler struct {
	Store *cachestore.Store
}

type healthResponse struct {
	Status string `json:"status"`
}

func (h *HealthHandler) HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.Store.Ping(); err != nil {
			writeHealth(w, http.StatusServiceUnavailable, "down")
			return
		}
		writeHealth(w, http.StatusOK, "up")
	}
}

func writeHealth(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: status})
}
