package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vaxtrack/vaccination-scheduling/internal/appointment"
	"github.com/vaxtrack/vaccination-scheduling/internal/booking"
	"github.com/vaxtrack/vaccination-scheduling/internal/catalog"
	"github.com/vaxtrack/vaccination-scheduling/internal/eligibility"
	"github.com/vaxtrack/vaccination-scheduling/internal/ledger"
	"github.com/vaxtrack/vaccination-scheduling/internal/matcher"
)

type RouterConfig struct {
	Booking      *booking.Service
	Appointments *appointment.Service
	Matcher      *matcher.Matcher
	Catalog      catalog.Repository
	Ledger       ledger.Ledger
	Engine       *eligibility.Engine
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Booking workflow
	r.Post("/bookings", startBookingHandler(cfg.Booking))
	r.Get("/bookings/{id}", getBookingHandler(cfg.Booking))
	r.Post("/bookings/{id}/vaccine", selectVaccineHandler(cfg.Booking))
	r.Post("/bookings/{id}/center", selectCenterHandler(cfg.Booking))
	r.Post("/bookings/{id}/slot", selectSlotHandler(cfg.Booking))
	r.Post("/bookings/{id}/confirm", confirmBookingHandler(cfg.Booking))
	r.Post("/bookings/{id}/previous", previousStepHandler(cfg.Booking))
	r.Delete("/bookings/{id}", abandonBookingHandler(cfg.Booking))

	// Catalog
	r.Get("/vaccines", listVaccinesHandler(cfg.Catalog))
	r.Get("/centers", listCentersHandler(cfg.Matcher))
	r.Get("/centers/{id}/slots", listCenterSlotsHandler(cfg.Ledger, cfg.Catalog))

	// Patients
	r.Get("/patients/{id}/eligibility", eligibilityHandler(cfg.Appointments, cfg.Catalog, cfg.Engine))
	r.Get("/patients/{id}/appointments", patientAppointmentsHandler(cfg.Appointments))
	r.Get("/patients/{id}/status", patientStatusHandler(cfg.Appointments))

	// Appointment lifecycle
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Appointments))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Appointments))

	// Administrative stock and capacity management
	r.Put("/admin/centers/{id}/stock/{vaccineID}", setStockHandler(cfg.Ledger, cfg.Catalog))
	r.Put("/admin/centers/{id}/slots", setSlotCapacityHandler(cfg.Ledger, cfg.Catalog))

	return r
}
