package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/supportbot/internal/version"
)

// PingHandler serves /ping and HEAD /health for liveness.
type PingHandler struct{}

func NewPingHandler() *PingHandler {
	return &PingHandler{}
}

// Register mounts GET /ping and HEAD /health on the Echo instance.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

// Ping returns 200 JSON with the status and build version.
func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.GetInfo(),
	})
}

// PingHead returns 200 No Content for health checks.
func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
