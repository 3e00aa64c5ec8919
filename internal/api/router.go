package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/opd-token-allocation/internal/logging"
	"github.com/hackgods/opd-token-allocation/internal/opd"
)

type RouterConfig struct {
	Service *opd.Service
	Logger  *logging.Logger
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Checks   []DependencyCheck
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	svc := cfg.Service

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/doctors", func(r chi.Router) {
		r.Post("/", createDoctorHandler(svc))
		r.Get("/", listDoctorsHandler(svc))
		r.Get("/{id}", getDoctorHandler(svc))
		r.Get("/{id}/stats", doctorStatsHandler(svc))
		r.Get("/{id}/slots", doctorSlotsHandler(svc, svc.SlotsForDoctor, false))
		r.Get("/{id}/slots/available", doctorSlotsHandler(svc, svc.AvailableSlots, true))
	})

	r.Route("/slots", func(r chi.Router) {
		r.Post("/", createSlotsHandler(svc))
		r.Get("/{id}", getSlotHandler(svc))
		r.Get("/{id}/stats", slotStatsHandler(svc))
		r.Get("/{id}/queue", slotQueueHandler(svc))
		r.Post("/{id}/delay", delaySlotHandler(svc))
		r.Post("/{id}/reallocate", reallocateHandler(svc))
		r.Post("/{id}/promote", promoteHandler(svc))
	})

	r.Route("/tokens", func(r chi.Router) {
		r.Post("/book", bookTokenHandler(svc.BookOnline))
		r.Post("/walkin", bookTokenHandler(walkInBooker(svc)))
		r.Post("/priority", bookTokenHandler(svc.BookPriority))
		r.Post("/followup", bookTokenHandler(svc.BookFollowUp))
		r.Post("/emergency", bookTokenHandler(emergencyBooker(svc)))
		r.Post("/waitlist", joinWaitlistHandler(svc))
		r.Get("/", listTokensHandler(svc))
		r.Get("/{id}", getTokenHandler(svc))
		r.Delete("/{id}", deleteTokenHandler(svc))
		r.Post("/{id}/cancel", cancelTokenHandler(svc))
		r.Post("/{id}/no-show", noShowHandler(svc))
		r.Patch("/{id}/status", updateStatusHandler(svc))
	})

	return r
}
