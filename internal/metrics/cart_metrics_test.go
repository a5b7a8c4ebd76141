package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewCartMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCartMetricsWithRegisterer(reg)

	if metrics == nil {
		t.Fatal("NewCartMetricsWithRegisterer should not return nil")
	}
	if metrics.operations == nil {
		t.Error("operations counter vec should not be nil")
	}
	if metrics.writeFailures == nil {
		t.Error("writeFailures counter should not be nil")
	}
	if metrics.merges == nil {
		t.Error("merges counter vec should not be nil")
	}
	if metrics.notifications == nil {
		t.Error("notifications counter vec should not be nil")
	}
	if metrics.linesWritten == nil {
		t.Error("linesWritten histogram should not be nil")
	}
}

func TestNewCartMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewCartMetricsWithRegisterer(reg)
	second := NewCartMetricsWithRegisterer(reg)

	first.RecordStorageWriteFailure()
	second.RecordStorageWriteFailure()

	if got := testutil.ToFloat64(first.writeFailures); got != 2 {
		t.Errorf("expected shared counter value 2, got %f", got)
	}
}

func TestRecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_cart_operations_total",
		Help: "Test counter vec",
	}, []string{"op", "result"})
	reg.MustRegister(operations)

	metrics := &CartMetrics{operations: operations}

	metrics.RecordOperation("upsert", ResultOK)
	metrics.RecordOperation("upsert", ResultOK)
	metrics.RecordOperation("upsert", ResultNoop)
	metrics.RecordOperation("clear", ResultFailed)

	if got := testutil.ToFloat64(operations.WithLabelValues("upsert", ResultOK)); got != 2 {
		t.Errorf("expected upsert ok 2, got %f", got)
	}
	if got := testutil.ToFloat64(operations.WithLabelValues("upsert", ResultNoop)); got != 1 {
		t.Errorf("expected upsert noop 1, got %f", got)
	}
	if got := testutil.ToFloat64(operations.WithLabelValues("clear", ResultFailed)); got != 1 {
		t.Errorf("expected clear failed 1, got %f", got)
	}
}

func TestRecordStorageWriteFailure(t *testing.T) {
	reg := prometheus.NewRegistry()

	writeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_cart_storage_write_failures_total",
		Help: "Test counter",
	})
	reg.MustRegister(writeFailures)

	metrics := &CartMetrics{writeFailures: writeFailures}
	metrics.RecordStorageWriteFailure()

	metric := &dto.Metric{}
	if err := writeFailures.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 1.0 {
		t.Errorf("expected counter value 1.0, got %f", metric.Counter.GetValue())
	}
}

func TestRecordMergeAndNotification(t *testing.T) {
	reg := prometheus.NewRegistry()

	merges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_cart_merges_total",
		Help: "Test counter vec",
	}, []string{"result"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_cart_notifications_total",
		Help: "Test counter vec",
	}, []string{"source"})
	reg.MustRegister(merges, notifications)

	metrics := &CartMetrics{merges: merges, notifications: notifications}

	metrics.RecordMerge(ResultOK)
	metrics.RecordMerge(ResultSkipped)
	metrics.RecordNotification("local")
	metrics.RecordNotification("local")
	metrics.RecordNotification("storage")

	if got := testutil.ToFloat64(merges.WithLabelValues(ResultOK)); got != 1 {
		t.Errorf("expected merges ok 1, got %f", got)
	}
	if got := testutil.ToFloat64(merges.WithLabelValues(ResultSkipped)); got != 1 {
		t.Errorf("expected merges skipped 1, got %f", got)
	}
	if got := testutil.ToFloat64(notifications.WithLabelValues("local")); got != 2 {
		t.Errorf("expected local notifications 2, got %f", got)
	}
	if got := testutil.ToFloat64(notifications.WithLabelValues("storage")); got != 1 {
		t.Errorf("expected storage notifications 1, got %f", got)
	}
}

func TestObserveCartSize(t *testing.T) {
	reg := prometheus.NewRegistry()

	linesWritten := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_cart_lines_written",
		Help:    "Test histogram",
		Buckets: []float64{0, 1, 5, 10},
	})
	reg.MustRegister(linesWritten)

	metrics := &CartMetrics{linesWritten: linesWritten}

	metrics.ObserveCartSize(0)
	metrics.ObserveCartSize(3)
	metrics.ObserveCartSize(7)

	metric := &dto.Metric{}
	if err := linesWritten.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 3 {
		t.Errorf("expected 3 samples, got %d", metric.Histogram.GetSampleCount())
	}
	if metric.Histogram.GetSampleSum() != 10 {
		t.Errorf("expected sum 10, got %f", metric.Histogram.GetSampleSum())
	}
}

func TestRegisterCounter_PanicsOnConflictingDescriptor(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_conflict_total",
		Help: "Registered first",
	}, []string{"op"}))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on conflicting descriptor")
		}
	}()
	registerCounter(reg, prometheus.CounterOpts{Name: "test_conflict_total", Help: "Registered second"})
}
