package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций для label result.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultNoop    = "noop"
	ResultSkipped = "skipped"
)

// CartMetrics содержит метрики операций локальной корзины.
type CartMetrics struct {
	// Счётчики операций
	operations    *prometheus.CounterVec
	writeFailures prometheus.Counter
	merges        *prometheus.CounterVec

	// Уведомления cartUpdated по источнику
	notifications *prometheus.CounterVec

	// Размер записанной корзины в позициях
	linesWritten prometheus.Histogram
}

// NewCartMetrics создаёт метрики корзины в DefaultRegisterer.
func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCartMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CartMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_operations_total",
			Help: "Total number of cart store operations by result",
		}, []string{"op", "result"}),
		writeFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_storage_write_failures_total",
			Help: "Total number of failed cart writes to the key-value storage",
		}),
		merges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_merges_total",
			Help: "Total number of anonymous cart merges by result",
		}, []string{"result"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_notifications_total",
			Help: "Total number of cartUpdated notifications by source",
		}, []string{"source"}),
		linesWritten: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "cart_lines_written",
			Help:    "Number of cart lines persisted per write",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOperation увеличивает счётчик операции op с результатом result.
func (m *CartMetrics) RecordOperation(op, result string) {
	m.operations.WithLabelValues(op, result).Inc()
}

// RecordStorageWriteFailure увеличивает счётчик неудачных записей.
func (m *CartMetrics) RecordStorageWriteFailure() {
	m.writeFailures.Inc()
}

// RecordMerge увеличивает счётчик слияний.
func (m *CartMetrics) RecordMerge(result string) {
	m.merges.WithLabelValues(result).Inc()
}

// RecordNotification увеличивает счётчик уведомлений по источнику.
func (m *CartMetrics) RecordNotification(source string) {
	m.notifications.WithLabelValues(source).Inc()
}

// ObserveCartSize записывает количество позиций в сохранённой корзине.
func (m *CartMetrics) ObserveCartSize(lines int) {
	m.linesWritten.Observe(float64(lines))
}
