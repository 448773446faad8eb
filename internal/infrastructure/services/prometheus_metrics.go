package services

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/treservi/notify-engine/internal/domain/entities"
)

const metricsNamespace = "notify_engine"

// PrometheusMetrics records engine activity as Prometheus collectors
type PrometheusMetrics struct {
	fetches       *prometheus.CounterVec
	discarded     prometheus.Counter
	liveEvents    *prometheus.CounterVec
	badgeCount    prometheus.Gauge
	statusChanges *prometheus.CounterVec
	pushes        *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unread_fetches_total",
			Help:      "Authoritative unread count fetches by result.",
		}, []string{"result"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unread_fetches_discarded_total",
			Help:      "Fetches superseded by a newer fetch, mark-all-read or identity change.",
		}),
		liveEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "live_events_total",
			Help:      "Live feed deliveries by kind and whether they changed the count.",
		}, []string{"kind", "counted"}),
		badgeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "badge_count",
			Help:      "Last rendered badge count.",
		}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "subscription_status_changes_total",
			Help:      "Push subscription status transitions by new status.",
		}, []string{"status"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "push_deliveries_total",
			Help:      "Web push deliveries by result.",
		}, []string{"result"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "local_state_errors_total",
			Help:      "Local state store failures by operation.",
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{
		m.fetches, m.discarded, m.liveEvents, m.badgeCount, m.statusChanges, m.pushes, m.storageErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) FetchCompleted(ok bool) {
	m.fetches.WithLabelValues(result(ok)).Inc()
}

func (m *PrometheusMetrics) FetchDiscarded() {
	m.discarded.Inc()
}

func (m *PrometheusMetrics) LiveEventReceived(kind entities.LiveEventKind, counted bool) {
	m.liveEvents.WithLabelValues(string(kind), strconv.FormatBool(counted)).Inc()
}

func (m *PrometheusMetrics) BadgeRendered(count int) {
	m.badgeCount.Set(float64(count))
}

func (m *PrometheusMetrics) SubscriptionStatusChanged(status entities.SubscriptionStatus) {
	m.statusChanges.WithLabelValues(string(status)).Inc()
}

func (m *PrometheusMetrics) PushDelivered(ok bool) {
	m.pushes.WithLabelValues(result(ok)).Inc()
}

func (m *PrometheusMetrics) StorageFailure(op string) {
	m.storageErrors.WithLabelValues(op).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
