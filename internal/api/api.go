// Package api exposes the task store and voice ingestion over JSON/HTTP.
//
// Routes:
//
//	GET    /api/tasks                 list tasks
//	POST   /api/tasks                 create a task
//	GET    /api/tasks/{id}            fetch one task
//	PATCH  /api/tasks/{id}            partially update a task
//	DELETE /api/tasks/{id}            delete a task
//	POST   /api/tasks/{id}/toggle     flip the done flag
//	GET    /api/ingest                list recent ingestions
//	POST   /api/ingest                start capturing an utterance
//	GET    /api/ingest/{id}           ingestion status
//	POST   /api/ingest/{id}/toggle    stop capturing and upload
//	GET    /api/events                websocket stream of changes
//
// Health endpoints and the metrics path are mounted on the same mux.
package api

import (
	"context"
	"net/http"

	"github.com/rs/cors"

	"github.com/MrWong99/voxtodo/internal/health"
	"github.com/MrWong99/voxtodo/internal/ingest"
	"github.com/MrWong99/voxtodo/internal/observe"
	"github.com/MrWong99/voxtodo/pkg/task"
)

// TaskService is the subset of [tasks.Store] used by the API.
type TaskService interface {
	List(ctx context.Context) ([]task.Task, error)
	Get(ctx context.Context, id int64) (task.Task, error)
	Add(ctx context.Context, draft task.Task) (task.Task, error)
	UpdateTask(ctx context.Context, id int64, patch task.Patch) (task.Task, error)
	ToggleDone(ctx context.Context, id int64) (task.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

// IngestService is the subset of [ingest.Manager] used by the API.
type IngestService interface {
	Start(ctx context.Context) (*ingest.Coordinator, error)
	Get(id string) (*ingest.Coordinator, error)
	Toggle(ctx context.Context, id string) (*ingest.Coordinator, error)
	List() []ingest.Snapshot
}

// Config holds the dependencies of a [Server].
type Config struct {
	Tasks TaskService

	// Ingest may be nil when voice capture is not configured; ingestion
	// routes then answer 503.
	Ingest IngestService

	// Events may be nil to disable /api/events.
	Events *Hub

	// Health may be nil to skip /healthz and /readyz.
	Health *health.Handler

	// MetricsHandler is mounted at MetricsPath when both are set.
	MetricsHandler http.Handler
	MetricsPath    string

	// Metrics is used by the request middleware. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string
}

// Server routes HTTP requests to the task and ingestion services.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// NewServer builds the route table.
func NewServer(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/tasks", s.listTasks)
	s.mux.HandleFunc("POST /api/tasks", s.createTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.updateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/toggle", s.toggleTask)

	s.mux.HandleFunc("GET /api/ingest", s.listIngestions)
	s.mux.HandleFunc("POST /api/ingest", s.startIngestion)
	s.mux.HandleFunc("GET /api/ingest/{id}", s.getIngestion)
	s.mux.HandleFunc("POST /api/ingest/{id}/toggle", s.toggleIngestion)

	if cfg.Events != nil {
		s.mux.Handle("GET /api/events", cfg.Events)
	}
	if cfg.Health != nil {
		cfg.Health.Register(s.mux)
	}
	if cfg.MetricsHandler != nil && cfg.MetricsPath != "" {
		s.mux.Handle("GET "+cfg.MetricsPath, cfg.MetricsHandler)
	}
	return s
}

// Handler returns the mux wrapped in the observability middleware and, when
// origins are configured, CORS handling.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	// rs/cors treats an empty origin list as "*".
	if len(s.cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Traceparent"},
			ExposedHeaders: []string{"X-Correlation-ID"},
		}).Handler(h)
	}
	return observe.Middleware(s.cfg.Metrics)(h)
}
