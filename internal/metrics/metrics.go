// Package metrics defines the prometheus collectors for ingestion outcomes.
//
// Collectors are registered on an injected Registerer, never on the global
// default registry. All methods are safe on a nil *Metrics so components can
// run without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "harvest"

// Message outcomes.
const (
	OutcomeAck     = "ack"
	OutcomeRequeue = "requeue"
)

// Metrics holds the service collectors.
type Metrics struct {
	messages        *prometheus.CounterVec
	productsLoaded  prometheus.Counter
	filesSkipped    *prometheus.CounterVec
	fieldsAdded     prometheus.Counter
	refPages        prometheus.Counter
	dictionaryLoads *prometheus.CounterVec
	reconnects      prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Broker messages handled, by queue and outcome.",
		}, []string{"queue", "outcome"}),
		productsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_loaded_total",
			Help:      "Product documents written to the registry.",
		}),
		filesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Files not loaded, by reason.",
		}, []string{"reason"}),
		fieldsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_fields_added_total",
			Help:      "Fields added to the registry mapping.",
		}),
		refPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reference_pages_loaded_total",
			Help:      "Collection reference pages written.",
		}),
		dictionaryLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dictionary_loads_total",
			Help:      "Data dictionary files loaded, by namespace.",
		}, []string{"namespace"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_connects_total",
			Help:      "Broker connection attempts that failed or were lost.",
		}),
	}
	reg.MustRegister(m.messages, m.productsLoaded, m.filesSkipped, m.fieldsAdded,
		m.refPages, m.dictionaryLoads, m.reconnects)
	return m
}

// Message counts a handled message.
func (m *Metrics) Message(queue, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(queue, outcome).Inc()
}

// ProductsLoaded counts product documents written.
func (m *Metrics) ProductsLoaded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.productsLoaded.Add(float64(n))
}

// FilesSkipped counts files dropped from a batch.
func (m *Metrics) FilesSkipped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.filesSkipped.WithLabelValues(reason).Add(float64(n))
}

// FieldsAdded counts mapping additions.
func (m *Metrics) FieldsAdded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fieldsAdded.Add(float64(n))
}

// ReferencePages counts reference pages written.
func (m *Metrics) ReferencePages(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.refPages.Add(float64(n))
}

// DictionaryLoaded counts a loaded dictionary file.
func (m *Metrics) DictionaryLoaded(ns string) {
	if m == nil {
		return
	}
	m.dictionaryLoads.WithLabelValues(ns).Inc()
}

// ConnectFailed counts a failed or lost broker connection.
func (m *Metrics) ConnectFailed() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
