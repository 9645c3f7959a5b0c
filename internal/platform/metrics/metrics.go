// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lims"

type collectors struct {
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	patientsRegistered prometheus.Counter
	samplesCreated     *prometheus.CounterVec
	sampleCodeRetries  prometheus.Counter
	invoicesCreated    prometheus.Counter
	paymentsAmount     *prometheus.CounterVec
	stockReceipts      prometheus.Counter
	sessionBumps       *prometheus.CounterVec
	queueEnqueued      *prometheus.CounterVec
}

var singleton = sync.OnceValue(func() *collectors {
	return &collectors{
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP requests.",
			Buckets: []float64{
				0.005, 0.01, 0.025,
				0.05, 0.1, 0.25,
				0.5, 1, 2.5, 5, 10,
			},
		}, []string{"route", "method"}),
		patientsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patients_registered_total",
			Help:      "Total number of registered patients.",
		}),
		samplesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_created_total",
			Help:      "Total number of collected samples by sample type.",
		}, []string{"sample_type"}),
		sampleCodeRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_code_retries_total",
			Help:      "Sample code generations retried after a unique violation.",
		}),
		invoicesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_created_total",
			Help:      "Total number of patient invoices created.",
		}),
		paymentsAmount: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_amount_total",
			Help:      "Sum of recorded payments by method.",
		}, []string{"method"}),
		stockReceipts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_receipts_total",
			Help:      "Total number of purchase invoices received into stock.",
		}),
		sessionBumps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_version_bumps_total",
			Help:      "Session epoch increments by reason.",
		}, []string{"reason"}),
		queueEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Queue tickets issued by station.",
		}, []string{"station"}),
	}
})

func get() *collectors {
	return singleton()
}

// Init registers every collector. Calling it at startup makes all series
// visible on /metrics before the first event.
func Init() {
	get()
}

func ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	m := get()
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func PatientRegistered() { get().patientsRegistered.Inc() }

func SampleCreated(sampleType string) { get().samplesCreated.WithLabelValues(sampleType).Inc() }

func SampleCodeRetry() { get().sampleCodeRetries.Inc() }

func InvoiceCreated() { get().invoicesCreated.Inc() }

func PaymentRecorded(method string, amount float64) {
	get().paymentsAmount.WithLabelValues(method).Add(amount)
}

func StockReceived() { get().stockReceipts.Inc() }

func SessionBumped(reason string) { get().sessionBumps.WithLabelValues(reason).Inc() }

func QueueEnqueued(station string) { get().queueEnqueued.WithLabelValues(station).Inc() }

// Handler serves the default registry.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
