package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cargodesk/cargodesk/internal/ap"
	"github.com/cargodesk/cargodesk/internal/ar"
	"github.com/cargodesk/cargodesk/internal/booking"
	"github.com/cargodesk/cargodesk/internal/observability"
	"github.com/cargodesk/cargodesk/internal/payment"
	"github.com/cargodesk/cargodesk/internal/reporting"
	"github.com/cargodesk/cargodesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	BookingHandler   *booking.Handler
	ARHandler        *ar.Handler
	APHandler        *ap.Handler
	PaymentHandler   *payment.Handler
	WebhookHandler   *payment.WebhookHandler
	ReportingHandler *reporting.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with cargodesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/bookings", params.BookingHandler.MountRoutes)
	r.Route("/finance/ar", params.ARHandler.MountRoutes)
	r.Route("/finance/ap", params.APHandler.MountRoutes)
	r.Route("/payments", params.PaymentHandler.MountRoutes)
	r.Route("/webhooks", params.WebhookHandler.MountRoutes)
	r.Route("/dashboard", params.ReportingHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
