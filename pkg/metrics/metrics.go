// Package metrics provides the process-wide Prometheus registry plus the
// per-service collector sets (MQ client, stream processor, collar simulator).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the service exports. A dedicated registry
// keeps test registrations away from the default global one.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns the HTTP handler the processor mounts on /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MustRegister registers collectors with the registry, panicking on
// duplicates or invalid descriptors.
func MustRegister(collectors ...prometheus.Collector) {
	Registry.MustRegister(collectors...)
}
