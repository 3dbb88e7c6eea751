package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

type SystemHandler struct {
	names  []string
	checks []CheckFunc
}

func NewSystemHandler() *SystemHandler {
	return &SystemHandler{}
}

// AddCheck registers a readiness check. Only enabled collaborators are registered.
func (h *SystemHandler) AddCheck(name string, fn CheckFunc) {
	h.names = append(h.names, name)
	h.checks = append(h.checks, fn)
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for i, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[h.names[i]] = err.Error()
			healthy = false
		} else {
			checks[h.names[i]] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}
