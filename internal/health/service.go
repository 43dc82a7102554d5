package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"harvester/internal/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// CheckFunc reports a component as healthy by returning nil.
type CheckFunc func(ctx context.Context) error

// Check is one named dependency probed by the health endpoint.
type Check struct {
	Name string
	Fn   CheckFunc
}

// HealthHandler handles health check requests
type HealthHandler struct {
	log       *logger.Logger
	checks    []Check
	timeout   time.Duration
	startTime time.Time
	isReady   atomic.Bool
}

// NewHealthHandler creates a handler probing every check concurrently.
func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{
		log:       logger.New("HealthCheck"),
		checks:    checks,
		timeout:   8 * time.Second,
		startTime: time.Now(),
	}
}

// SetReady marks the application as ready to receive traffic
func (h *HealthHandler) SetReady() {
	h.isReady.Store(true)
	h.log.LogSuccessf("Application marked as ready for traffic after %v", time.Since(h.startTime))
}

// ComponentStatus holds the status of a dependent component
type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OverallHealth represents the overall health status including components
type OverallHealth struct {
	OverallStatus string                     `json:"overall_status"`
	Timestamp     string                     `json:"timestamp"`
	Ready         bool                       `json:"ready"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components"`
}

// Check runs every component check and returns the combined result.
func (h *HealthHandler) Check(ctx context.Context) OverallHealth {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	statuses := make(map[string]ComponentStatus, len(h.checks))
	var wg sync.WaitGroup
	var mu sync.Mutex
	allOk := true

	for _, c := range h.checks {
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()
			componentStart := time.Now()
			state := ComponentStatus{Status: "ok"}
			if err := c.Fn(ctx); err != nil {
				state = ComponentStatus{Status: "error", Error: err.Error()}
				// Always log failures
				h.log.LogErrorf("Health check failed for %s after %v: %v", c.Name, time.Since(componentStart), err)
			} else {
				h.log.LogDebugf("Health check passed for %s in %v", c.Name, time.Since(componentStart))
			}
			mu.Lock()
			statuses[c.Name] = state
			if state.Status != "ok" {
				allOk = false
			}
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	ready := h.isReady.Load()
	resp := OverallHealth{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Ready:         ready,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components:    statuses,
	}
	switch {
	case !ready:
		resp.OverallStatus = "starting"
	case allOk:
		resp.OverallStatus = "ok"
	default:
		resp.OverallStatus = "error"
	}
	return resp
}

// HandleHealth responds with the system's health status, including dependencies
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	startTime := time.Now()
	resp := h.Check(c.UserContext())

	// Application must be ready AND all components healthy
	if resp.OverallStatus == "ok" {
		h.log.LogDebugf("Health check completed successfully in %v", time.Since(startTime))
		return c.Status(http.StatusOK).JSON(resp)
	}
	if resp.OverallStatus == "starting" {
		h.log.LogDebugf("Health check: application not ready (uptime: %v)", time.Since(h.startTime))
	} else {
		h.log.LogWarnf("Health check failed after %v. Statuses: %+v", time.Since(startTime), resp.Components)
	}
	return c.Status(http.StatusServiceUnavailable).JSON(resp)
}

func HealthLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{"error": "Rate limit exceeded"})
		},
	})
}
