package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the health and metrics endpoints and, when api is non-nil,
// the tracking API under /v1.
func NewRouter(health, metrics http.Handler, api *API) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/health", health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	if api == nil {
		return r
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/page-visits", api.PostPageVisit)
		r.Post("/events", api.PostEvent)
		r.Post("/conversions", api.PostConversion)
		r.Post("/revenue", api.PostRevenue)

		r.Put("/custom-user-id", api.PutCustomUserID)
		r.Delete("/custom-user-id", api.DeleteCustomUserID)
		r.Post("/device-custom-user-id", api.PostDeviceCustomUserID)

		r.Get("/global-properties", api.GetGlobalProperties)
		r.Put("/global-properties", api.PutGlobalProperty)
		r.Delete("/global-properties", api.DeleteGlobalProperties)

		r.Get("/match-id", api.GetMatchID)
		r.Put("/match-id", api.PutMatchID)
		r.Delete("/match-id", api.DeleteMatchID)
		r.Get("/device-id", api.GetDeviceID)

		r.Post("/unload", api.PostUnload)
	})
	return r
}

func New(addr string, handler http.Handler, unloadTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      unloadTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
