package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/observability"
	"github.com/atlas-pos/atlas-pos/internal/procurement"
	"github.com/atlas-pos/atlas-pos/internal/sales/orders"
	"github.com/atlas-pos/atlas-pos/internal/sales/returns"
	"github.com/atlas-pos/atlas-pos/internal/stockdocs"
	"github.com/atlas-pos/atlas-pos/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	LedgerHandler      *ledger.Handler
	StockDocsHandler   *stockdocs.Handler
	OrdersHandler      *orders.Handler
	ReturnsHandler     *returns.Handler
	ProcurementHandler *procurement.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Atlas defaults.
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

	r.Route("/stock", func(r chi.Router) {
		params.LedgerHandler.MountRoutes(r)
		params.StockDocsHandler.MountRoutes(r)
	})
	r.Route("/sales", func(r chi.Router) {
		params.OrdersHandler.MountRoutes(r)
		params.ReturnsHandler.MountRoutes(r)
	})
	r.Route("/procurement", params.ProcurementHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
