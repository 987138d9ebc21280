package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	GatewayOutcomeOK          = "ok"
	GatewayOutcomeRejected    = "rejected"
	GatewayOutcomeAuthFailed  = "auth_failed"
	GatewayOutcomeUnavailable = "unavailable"
	GatewayOutcomeCanceled    = "canceled"
)

const (
	StorageReasonLockTimeout          = "lock_timeout"
	StorageReasonSerializationFailure = "serialization_failure"
	StorageReasonUniqueViolation      = "unique_violation"
	StorageReasonDeadlineExceeded     = "deadline_exceeded"
	StorageReasonUnknown              = "unknown"
)

// GatewayMetrics captures outbound gateway health and storage failures on the payment path.
type GatewayMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	storageErrors   *prometheus.CounterVec
	pollAttempts    *prometheus.HistogramVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayMetrics     *GatewayMetrics
)

// Gateway returns the singleton gateway metrics registry.
func Gateway() *GatewayMetrics {
	return GatewayWithConfig(Config{})
}

// GatewayWithConfig returns the singleton gateway metrics registry using config labels.
func GatewayWithConfig(cfg Config) *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayMetrics = newGatewayMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return gatewayMetrics
}

func newGatewayMetrics(registerer prometheus.Registerer, cfg Config) *GatewayMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "gamestore"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "gamestore_gateway_request_duration_seconds",
		Help:        "Outbound payment gateway call latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		ConstLabels: constLabels,
	}, []string{"gateway", "operation", "outcome"})
	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "gamestore_gateway_requests_total",
		Help:        "Outbound payment gateway calls by outcome.",
		ConstLabels: constLabels,
	}, []string{"gateway", "operation", "outcome"})
	storageErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "gamestore_purchase_storage_errors_total",
		Help:        "Purchase store failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})
	pollAttempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "gamestore_status_poll_attempts",
		Help:        "Attempts used by a status poll before it settled.",
		Buckets:     []float64{1, 2, 3, 5, 8, 10, 15, 20},
		ConstLabels: constLabels,
	}, []string{"status"})

	registerer.MustRegister(requestDuration, requestTotal, storageErrors, pollAttempts)

	return &GatewayMetrics{
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		storageErrors:   storageErrors,
		pollAttempts:    pollAttempts,
	}
}

// ObserveRequest records one outbound gateway call.
func (m *GatewayMetrics) ObserveRequest(gateway, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(gateway, operation, outcome).Observe(elapsed.Seconds())
	m.requestTotal.WithLabelValues(gateway, operation, outcome).Inc()
}

// RecordStorageError classifies and counts a purchase store failure.
func (m *GatewayMetrics) RecordStorageError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.storageErrors.WithLabelValues(operation, ClassifyStorageReason(err)).Inc()
}

// ObservePoll records how many attempts a status poll needed.
func (m *GatewayMetrics) ObservePoll(status string, attempts int) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(status).Observe(float64(attempts))
}

// ClassifyStorageReason maps database errors to a low-cardinality reason.
func ClassifyStorageReason(err error) string {
	if err == nil {
		return StorageReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StorageReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return StorageReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return StorageReasonLockTimeout
		case "40001", "40P01":
			return StorageReasonSerializationFailure
		case "23505":
			return StorageReasonUniqueViolation
		}
	}
	return StorageReasonUnknown
}
