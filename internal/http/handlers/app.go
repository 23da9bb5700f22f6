package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"memegen/internal/domain"
	"memegen/internal/infra"
)

// DefaultMaxUploadBytes bounds the multipart body accepted by Upload.
const DefaultMaxUploadBytes = 20 << 20

// JobRegistry creates and reads jobs.
type JobRegistry interface {
	Create() string
	Get(id string) (domain.Job, error)
}

// Dispatcher starts background processing of an accepted upload.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string, data []byte, filename string)
}

// App holds the dependencies shared by the HTTP handlers.
type App struct {
	Jobs   JobRegistry
	Worker Dispatcher
	// JobContext bounds background work started by Upload. It must outlive
	// individual requests.
	JobContext     context.Context
	MaxUploadBytes int64
	Logger         *infra.Logger
}

// NewApp wires an App with defaults for optional fields.
func NewApp(jobs JobRegistry, worker Dispatcher, opts ...func(*App)) *App {
	app := &App{
		Jobs:           jobs,
		Worker:         worker,
		JobContext:     context.Background(),
		MaxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(app)
	}
	app.Logger = infra.OrDiscard(app.Logger)
	return app
}

// WithJobContext sets the context handed to dispatched jobs.
func WithJobContext(ctx context.Context) func(*App) {
	return func(a *App) { a.JobContext = ctx }
}

// WithMaxUploadBytes overrides the upload size limit.
func WithMaxUploadBytes(n int64) func(*App) {
	return func(a *App) {
		if n > 0 {
			a.MaxUploadBytes = n
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l *infra.Logger) func(*App) {
	return func(a *App) { a.Logger = l }
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, errorResponse{Error: message})
}
