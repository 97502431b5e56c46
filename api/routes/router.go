package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bottlepoint/waterbot/api/controllers"
	"github.com/bottlepoint/waterbot/api/middleware"
	"github.com/bottlepoint/waterbot/pkg/logger"
)

// OpsParams wires the operations surface served next to the bot.
type OpsParams struct {
	Env      string
	Logger   *logger.Logger
	Gatherer prometheus.Gatherer
	// Ready lists the dependencies /health/ready pings, keyed by name.
	Ready map[string]controllers.Pinger
}

// NewOpsRouter serves health probes and Prometheus metrics.
func NewOpsRouter(params OpsParams) http.Handler {
	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(params.Logger),
		middleware.RequestID(params.Logger),
		middleware.Logging(params.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(params.Env))
		r.Get("/ready", controllers.HealthReady(params.Env, params.Logger, params.Ready))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
