// Package health exposes liveness/readiness probes for the bootstrap HTTP server.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RegistrySizer reports how many rooms are currently live, used as the
// readiness self-check for a single-process, in-memory server (there is no
// external dependency — database, cache, upstream service — to ping).
type RegistrySizer interface {
	RoomCount() int
}

// Handler serves the liveness/readiness endpoints.
type Handler struct {
	registry RegistrySizer
}

// NewHandler creates a health Handler backed by the given registry.
func NewHandler(registry RegistrySizer) *Handler {
	return &Handler{registry: registry}
}

// LivenessResponse is returned by the liveness probe.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is returned by the readiness probe.
type ReadinessResponse struct {
	Status    string `json:"status"`
	Rooms     int    `json:"rooms"`
	Timestamp string `json:"timestamp"`
}

// Liveness handles GET /healthz — 200 if the process is alive.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /readyz — always 200, reporting the live room count
// (zero when no registry is attached).
func (h *Handler) Readiness(c *gin.Context) {
	rooms := 0
	if h.registry != nil {
		rooms = h.registry.RoomCount()
	}
	c.JSON(http.StatusOK, ReadinessResponse{
		Status:    "ready",
		Rooms:     rooms,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
