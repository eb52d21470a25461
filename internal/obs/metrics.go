package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthorizedIPs          = promauto.NewGauge(prometheus.GaugeOpts{Name: "portgate_authorized_ips", Help: "IPs currently in the allow-set"})
	SessionsActive         = promauto.NewGauge(prometheus.GaugeOpts{Name: "portgate_sessions_active", Help: "Relay sessions currently forwarding"})
	SessionsTotal          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portgate_sessions_total", Help: "Inbound connections by outcome"}, []string{"result"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "portgate_session_duration_seconds", Help: "Forwarding session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
	BytesTotal             = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portgate_bytes_total", Help: "Bytes forwarded by direction"}, []string{"direction"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portgate_errors_total", Help: "Errors by type"}, []string{"type"})
)
