package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler returns the /metrics HTTP handler for the registry. A nil
// registry (Prometheus bridge disabled) serves 404 so probes fail loudly
// rather than scraping an empty page.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	if registry == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
