package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"memegen/internal/http/handlers"
	"memegen/internal/infra"
	"memegen/internal/middleware"
)

const authRealm = "memegen"

// Options configures the router.
type Options struct {
	Logger       *infra.Logger
	AuthUsername string
	AuthPassword string
	// StatusRateLimit is the number of status polls allowed per client per
	// second.
	StatusRateLimit int
	// CORSAllowedOrigins lists browser origins allowed to call the API.
	CORSAllowedOrigins []string
	// TrustedProxies lists CIDR prefixes or addresses of reverse proxies
	// whose X-Forwarded-For header identifies the client. Empty means the
	// TCP peer is always the client.
	TrustedProxies []string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	logger := infra.OrDiscard(opts.Logger)
	limit := opts.StatusRateLimit
	if limit <= 0 {
		limit = 1
	}
	trusted, err := middleware.ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		logger.Error().Err(err).Msg("httpapi: ignoring trusted proxies")
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recover(*logger),
		middleware.Logger(*logger),
		middleware.CORS(opts.CORSAllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Post("/upload", app.Upload)

	basicAuth := chimw.BasicAuth(authRealm, map[string]string{opts.AuthUsername: opts.AuthPassword})
	r.With(middleware.RateLimit(limit, time.Second, trusted), basicAuth).Get("/status/{job_id}", app.Status)
	r.With(basicAuth).Get("/result/{job_id}", app.Result)

	return r
}
