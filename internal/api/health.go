package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// healthResponse reports index reachability and background queue state.
type healthResponse struct {
	Status     string `json:"status"`
	Index      string `json:"index"`
	QueueDepth int    `json:"queue_depth"`
	InFlight   bool   `json:"in_flight"`
	Timestamp  string `json:"timestamp"`
}

// handleHealth reports liveness. The index being unreachable degrades
// the response to 503, but the service itself keeps answering from raw
// document content.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		QueueDepth: s.queue.Depth(),
		InFlight:   s.queue.InFlight(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	if !s.index.Ready(ctx) {
		resp.Status = "degraded"
		resp.Index = "unreachable"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}

	resp.Status = "healthy"
	resp.Index = "connected"
	return c.JSON(resp)
}

// jobsResponse is the queue introspection payload.
type jobsResponse struct {
	Depth    int  `json:"depth"`
	InFlight bool `json:"in_flight"`
}

func (s *Server) handleJobs(c *fiber.Ctx) error {
	return c.JSON(jobsResponse{
		Depth:    s.queue.Depth(),
		InFlight: s.queue.InFlight(),
	})
}
