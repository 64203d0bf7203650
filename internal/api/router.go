package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	APIToken       string
	AllowedOrigins []string
}

// NewRouter builds the control API.
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(RequestID)
	r.Use(Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(Auth(opts.APIToken))
		r.Route("/grants", func(r chi.Router) {
			r.Post("/", h.CreateGrant)
			r.Route("/{token}", func(r chi.Router) {
				r.Get("/", h.GetGrant)
				r.Post("/resolve", h.ResolveGrant)
				r.Post("/revoke", h.RevokeGrant)
			})
		})
		r.Post("/commands", h.PostCommand)
		r.Get("/session", h.GetSession)
		r.Post("/session/stop", h.StopFromAnnouncement)
		r.Get("/session/events", h.SessionEvents)
		r.Route("/recordings", func(r chi.Router) {
			r.Get("/", h.ListRecordings)
			r.Get("/{id}", h.GetRecording)
		})
	})
	return r
}
