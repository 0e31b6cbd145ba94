// Package metrics holds the prometheus collectors for the presence server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "presence"

// Metrics holds the server's collectors. A nil *Metrics records nothing.
type Metrics struct {
	Upserts          *prometheus.CounterVec
	Deactivations    *prometheus.CounterVec
	HistoryAppends   prometheus.Counter
	Subscribers      *prometheus.GaugeVec
	Deliveries       prometheus.Counter
	DroppedSnapshots prometheus.Counter
	ActiveRows       prometheus.Gauge
	TotalRows        prometheus.Gauge
	SweepDeleted     *prometheus.CounterVec
	MQTTMessages     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upserts_total",
			Help:      "Position upserts by result.",
		}, []string{"result"}),
		Deactivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deactivations_total",
			Help:      "Deactivate calls by result.",
		}, []string{"result"}),
		HistoryAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_appends_total",
			Help:      "History entries appended.",
		}),
		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live subscriptions by query shape.",
		}, []string{"query"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_deliveries_total",
			Help:      "Snapshots handed to subscribers.",
		}),
		DroppedSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_superseded_total",
			Help:      "Undelivered snapshots replaced by a newer one.",
		}),
		ActiveRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rows",
			Help:      "Rows in the active set at the last refresh.",
		}),
		TotalRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_rows",
			Help:      "Rows in the presence table at the last refresh.",
		}),
		SweepDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_total",
			Help:      "Documents removed by the retention sweep.",
		}, []string{"collection"}),
		MQTTMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_messages_total",
			Help:      "MQTT messages handled by kind and result.",
		}, []string{"kind", "result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Upserts, m.Deactivations, m.HistoryAppends, m.Subscribers, m.Deliveries,
			m.DroppedSnapshots, m.ActiveRows, m.TotalRows, m.SweepDeleted, m.MQTTMessages,
		)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveUpsert(err error) {
	if m == nil {
		return
	}
	m.Upserts.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveDeactivate(err error) {
	if m == nil {
		return
	}
	m.Deactivations.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveHistoryAppend() {
	if m == nil {
		return
	}
	m.HistoryAppends.Inc()
}

func (m *Metrics) SetSubscribers(query string, n int) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(query).Set(float64(n))
}

func (m *Metrics) ObserveDelivery(superseded bool) {
	if m == nil {
		return
	}
	m.Deliveries.Inc()
	if superseded {
		m.DroppedSnapshots.Inc()
	}
}

func (m *Metrics) SetRows(active, total int) {
	if m == nil {
		return
	}
	m.ActiveRows.Set(float64(active))
	m.TotalRows.Set(float64(total))
}

func (m *Metrics) ObserveSweep(collection string, deleted int64) {
	if m == nil {
		return
	}
	m.SweepDeleted.WithLabelValues(collection).Add(float64(deleted))
}

func (m *Metrics) ObserveMQTT(kind string, err error) {
	if m == nil {
		return
	}
	m.MQTTMessages.WithLabelValues(kind, result(err)).Inc()
}
