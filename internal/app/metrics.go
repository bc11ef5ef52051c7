package app

import (
	client_prometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/rulesmarket/relay/internal"
)

var (
	TokenUsageMetric = client_prometheus.NewCounterVec(client_prometheus.CounterOpts{
		Name: "relay_token_usage",
	}, []string{"token"})

	HealthMetric = client_prometheus.NewGauge(client_prometheus.GaugeOpts{
		Name: "relay_health_status",
		Help: "Health status of the relay (1 = healthy, 0 = unhealthy)",
	})

	ReadyMetric = client_prometheus.NewGauge(client_prometheus.GaugeOpts{
		Name: "relay_ready_status",
		Help: "Ready status of the relay (1 = ready, 0 = not ready)",
	})

	VersionMetric = client_prometheus.NewGaugeVec(client_prometheus.GaugeOpts{
		Name: "relay_version_info",
		Help: "Version information of the relay",
	}, []string{"version"})

	InfoMetric = client_prometheus.NewGaugeVec(client_prometheus.GaugeOpts{
		Name: "relay_info",
		Help: "Static relay deployment info",
	}, []string{"name", "storage"})
)

// InitMetrics registers all Prometheus metrics and sets version info
func InitMetrics() {
	client_prometheus.MustRegister(TokenUsageMetric)
	client_prometheus.MustRegister(HealthMetric)
	client_prometheus.MustRegister(ReadyMetric)
	client_prometheus.MustRegister(VersionMetric)
	client_prometheus.MustRegister(InfoMetric)
	VersionMetric.WithLabelValues(internal.RelayVersionRevision).Set(1)
}

// SetRelayInfo records the deployment name and storage backend once at startup.
func SetRelayInfo(name, storage string) {
	InfoMetric.WithLabelValues(name, storage).Set(1)
}
