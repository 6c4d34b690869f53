package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mail-notifier/internal/models"
)

// Metrics tracks polling and delivery counters on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	cycleDuration       prometheus.Histogram
	messagesSeen        *prometheus.CounterVec
	duplicates          *prometheus.CounterVec
	notificationsSent   *prometheus.CounterVec
	notificationsFailed *prometheus.CounterVec
	consecutiveFailures *prometheus.GaugeVec
	connectionState     *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailnotifier_poll_cycle_duration_seconds",
			Help:    "Duration of a full polling cycle over every account",
			Buckets: prometheus.DefBuckets,
		}),
		messagesSeen: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailnotifier_messages_seen_total",
			Help: "Unseen messages returned by the mailbox",
		}, []string{"account"}),
		duplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailnotifier_messages_duplicate_total",
			Help: "Messages skipped because they were already processed",
		}, []string{"account"}),
		notificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailnotifier_notifications_sent_total",
			Help: "Notifications delivered",
		}, []string{"destination", "target"}),
		notificationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailnotifier_notifications_failed_total",
			Help: "Notifications that failed after every attempt",
		}, []string{"destination", "target"}),
		consecutiveFailures: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mailnotifier_account_consecutive_failures",
			Help: "Consecutive failed polling cycles per account",
		}, []string{"account"}),
		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mailnotifier_account_connection_state",
			Help: "Connection state per account (0 disconnected, 1 connecting, 2 connected, 3 error)",
		}, []string{"account"}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// observeDelivery labels by name and chat target, never by credential.
func (m *Metrics) observeDelivery(r models.DeliveryResult) {
	d := r.Destination
	if r.Success {
		m.notificationsSent.WithLabelValues(d.Name, d.Target).Inc()
		return
	}
	m.notificationsFailed.WithLabelValues(d.Name, d.Target).Inc()
}

func (m *Metrics) setAccount(account string, state models.ConnectionState, failures int) {
	m.connectionState.WithLabelValues(account).Set(float64(state))
	m.consecutiveFailures.WithLabelValues(account).Set(float64(failures))
}

func (m *Metrics) forget(account string) {
	m.connectionState.DeleteLabelValues(account)
	m.consecutiveFailures.DeleteLabelValues(account)
}
