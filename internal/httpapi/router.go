// Package httpapi exposes the intake service over HTTP.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrijs2005/intakevault/internal/intake"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/ratelimit"
	"github.com/dmitrijs2005/intakevault/internal/scan"
	"github.com/dmitrijs2005/intakevault/internal/statustoken"
)

// bodySlack is allowed on top of the total file ceiling for multipart
// framing and text fields.
const bodySlack = 1 << 20

// maxTextPart bounds a single non-file multipart part.
const maxTextPart = 64 << 10

// Options configure the handlers.
type Options struct {
	MaxFileBytes  int64
	MaxTotalBytes int64
	TrustProxy    bool
}

// Handler serves the intake API.
type Handler struct {
	opts    Options
	service *intake.Service
	tokens  *statustoken.Issuer
	tracker *scan.Tracker
	limiter *ratelimit.Limiter
	logger  logging.Logger
}

func NewHandler(opts Options, service *intake.Service, tokens *statustoken.Issuer, tracker *scan.Tracker,
	limiter *ratelimit.Limiter, logger logging.Logger) *Handler {
	return &Handler{
		opts:    opts,
		service: service,
		tokens:  tokens,
		tracker: tracker,
		limiter: limiter,
		logger:  logger.With("module", "http"),
	}
}

// Routes builds the router. Only submission uploads are rate limited.
func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(Recovery(h.logger))
	r.Use(Logger(h.logger))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1/submissions", func(r chi.Router) {
		r.With(h.limiter.Middleware(h.opts.TrustProxy, h.rateLimited)).Post("/", h.Create)
		r.Get("/status", h.Status)
	})

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "RateLimited")
}
