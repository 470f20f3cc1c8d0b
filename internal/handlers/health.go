package handlers

import (
	"net/http"
)

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Clients int    `json:"clients"`
}

// ClientCounter reports live feed connections.
type ClientCounter interface {
	Count() int
}

// HealthCheck returns a handler for GET /health
// Returns the server's health status for monitoring and load balancer checks.
func HealthCheck(clients ClientCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Message: "livefeed is running",
			Clients: clients.Count(),
		})
	}
}
