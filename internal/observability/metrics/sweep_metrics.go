package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SweepReasonDeadlineExceeded     = "deadline_exceeded"
	SweepReasonDBLockTimeout        = "db_lock_timeout"
	SweepReasonSerializationFailure = "serialization_failure"
	SweepReasonUniqueViolation      = "unique_violation"
	SweepReasonUnknown              = "unknown"

	SweepOutcomeResolved    = "resolved"
	SweepOutcomeUnresolved  = "unresolved"
	SweepOutcomeNeedsReview = "needs_review"
	SweepOutcomeFailed      = "failed"

	SweepSkipLockHeld = "lock_held"
)

// SweepMetrics captures orphan re-resolution health signals.
type SweepMetrics struct {
	runs      prometheus.Counter
	duration  prometheus.Histogram
	errors    *prometheus.CounterVec
	processed *prometheus.CounterVec
	skipped   *prometheus.CounterVec
}

var (
	sweepMetricsOnce sync.Once
	sweepMetrics     *SweepMetrics
)

// Sweep returns the singleton sweep metrics registry.
func Sweep() *SweepMetrics {
	return SweepWithConfig(Config{})
}

// SweepWithConfig returns the singleton sweep metrics registry using config labels.
func SweepWithConfig(cfg Config) *SweepMetrics {
	sweepMetricsOnce.Do(func() {
		sweepMetrics = newSweepMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return sweepMetrics
}

// ResetSweepMetricsForTest resets the sweep metrics singleton for tests.
func ResetSweepMetricsForTest() {
	sweepMetricsOnce = sync.Once{}
	sweepMetrics = nil
}

func newSweepMetrics(registerer prometheus.Registerer, cfg Config) *SweepMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "reconciler"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "reconciler_orphan_sweep_runs_total",
		Help:        "Orphan sweep runs.",
		ConstLabels: constLabels,
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "reconciler_orphan_sweep_duration_seconds",
		Help:        "Orphan sweep latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: constLabels,
	})
	errorsVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "reconciler_orphan_sweep_errors_total",
		Help:        "Orphan sweep errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "reconciler_orphan_sweep_processed_total",
		Help:        "Orphan transactions examined by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "reconciler_orphan_sweep_skipped_total",
		Help:        "Sweep runs skipped by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})

	registerer.MustRegister(runs, duration, errorsVec, processed, skipped)

	return &SweepMetrics{
		runs:      runs,
		duration:  duration,
		errors:    errorsVec,
		processed: processed,
		skipped:   skipped,
	}
}

func (m *SweepMetrics) IncRun() {
	if m == nil {
		return
	}
	m.runs.Inc()
}

func (m *SweepMetrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

func (m *SweepMetrics) IncError(err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(ClassifySweepReason(err)).Inc()
}

func (m *SweepMetrics) IncProcessed(outcome string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(outcome).Inc()
}

func (m *SweepMetrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

// ClassifySweepReason maps an error to a bounded label value.
func ClassifySweepReason(err error) string {
	if err == nil {
		return SweepReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SweepReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return SweepReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.LockNotAvailable:
			return SweepReasonDBLockTimeout
		case pgerrcode.SerializationFailure:
			return SweepReasonSerializationFailure
		case pgerrcode.UniqueViolation:
			return SweepReasonUniqueViolation
		}
	}
	return SweepReasonUnknown
}
