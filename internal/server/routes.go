package server

import (
	"bytes"
	"encoding/json"

	"harvester/internal/core/credential"
	"harvester/internal/core/ingest"
	"harvester/internal/core/job"
	"harvester/internal/core/records"
	"harvester/internal/health"

	"github.com/gofiber/fiber/v2"
)

type Dependencies struct {
	Jobs       job.Repository
	Submitter  ingest.Submitter
	Records    records.Lister
	Credential credential.Provider
	// Cache may be nil.
	Cache  ingest.Cache
	Checks []health.Check
}

// NewApp returns a fiber app that keeps HTML characters in JSON unescaped.
func NewApp() *fiber.App {
	return fiber.New(fiber.Config{
		AppName: "Harvester",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	// Health endpoints
	healthHandler := health.NewHealthHandler(d.Checks...)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	jobsHandler := ingest.NewHandler(d.Submitter, d.Jobs, d.Records, d.Cache)
	api.Post("/jobs", jobsHandler.HandleCreateJob)
	api.Get("/jobs", jobsHandler.HandleListJobs)
	api.Post("/jobs/retry-failed", jobsHandler.HandleRetryFailed)
	api.Get("/jobs/:jobId", jobsHandler.HandleGetJob)
	api.Get("/stats", jobsHandler.HandleStats)

	recordsHandler := records.NewHandler(d.Records)
	api.Get("/records", recordsHandler.HandleList)

	credHandler := credential.NewHandler(d.Credential)
	api.Get("/credential/health", credHandler.HandleHealth)
	api.Get("/credential/stats", credHandler.HandleStats)
	api.Post("/credential/refresh", credHandler.HandleRefresh)

	return healthHandler
}
