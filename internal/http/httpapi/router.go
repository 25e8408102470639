package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"iconforge/internal/http/handlers"
	"iconforge/internal/middleware"
)

// NewRouter wires the API surface. The webhook endpoint stays outside
// the auth group: the provider cannot carry a user token.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/api/icon", func(r chi.Router) {
		r.Post("/webhook", app.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthJWT(app.Config.JWTSecret))
			r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))

			r.Post("/generate", app.Generate)
			r.Get("/status/{uuid}", app.Status)
			r.Post("/batch-status", app.BatchStatus)
			r.Delete("/delete/{uuid}", app.Delete)
			r.Post("/batch-delete", app.BatchDelete)
			r.Get("/history", app.History)
			r.Get("/download/{uuid}", app.Download)
			r.Get("/export/{uuid}", app.Export)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.Config.JWTSecret))
		r.Get("/api/credits", app.Credits)
	})

	return r
}
