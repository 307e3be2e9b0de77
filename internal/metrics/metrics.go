// Package metrics records Prometheus metrics for the state pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/state"
	"github.com/conduit-lang/restkit/internal/subscription"
)

const namespace = "restkit"

// Metrics holds the pipeline collectors
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec
	UpdatesPublished  *prometheus.CounterVec
}

// New creates the collectors and registers them, with the Go and process
// collectors, on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "state",
				Name:      "operations_total",
				Help:      "Total number of provider and processor calls",
			},
			[]string{"stage", "class", "operation", "outcome"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "state",
				Name:      "duration_seconds",
				Help:      "Provider and processor duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage", "class", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "state",
				Name:      "errors_total",
				Help:      "Total number of pipeline errors by kind",
			},
			[]string{"stage", "kind"},
		),

		UpdatesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscription",
				Name:      "updates_total",
				Help:      "Total number of published resource updates",
			},
			[]string{"type", "outcome"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OperationsTotal,
		m.OperationDuration,
		m.ErrorsTotal,
		m.UpdatesPublished,
	)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collected metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Observe records one pipeline call
func (m *Metrics) Observe(stage string, op *metadata.Operation, started time.Time, err error) {
	class, name := "", ""
	if op != nil {
		class, name = op.Class(), op.Name()
	}
	m.OperationDuration.WithLabelValues(stage, class, name).Observe(time.Since(started).Seconds())
	if err == nil {
		m.OperationsTotal.WithLabelValues(stage, class, name, "success").Inc()
		return
	}
	m.OperationsTotal.WithLabelValues(stage, class, name, "error").Inc()
	m.ErrorsTotal.WithLabelValues(stage, ErrorKind(err)).Inc()
}

// ErrorKind classifies err into a low cardinality label
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, state.ErrNotFound):
		return "not_found"
	case errors.Is(err, state.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, state.ErrValidation):
		return "validation"
	case errors.Is(err, state.ErrUnexpectedValue), errors.Is(err, state.ErrInvalidArgument):
		return "bad_request"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "internal"
}

// Provider decorates a provider with metrics
func (m *Metrics) Provider(inner state.Provider) state.Provider {
	return state.ProviderFunc(func(ctx context.Context, op *metadata.Operation, ids *identifier.Values, sc *state.Context) (any, error) {
		started := time.Now()
		data, err := inner.Provide(ctx, op, ids, sc)
		m.Observe("provide", op, started, err)
		return data, err
	})
}

// Processor decorates a processor with metrics
func (m *Metrics) Processor(inner state.Processor) state.Processor {
	return state.ProcessorFunc(func(ctx context.Context, data any, op *metadata.Operation, ids *identifier.Values, sc *state.Context) (any, error) {
		started := time.Now()
		out, err := inner.Process(ctx, data, op, ids, sc)
		m.Observe("process", op, started, err)
		return out, err
	})
}

// Publisher decorates an update publisher with metrics
func (m *Metrics) Publisher(inner subscription.Publisher) subscription.Publisher {
	return subscription.PublisherFunc(func(ctx context.Context, update subscription.Update) error {
		err := inner.Publish(ctx, update)
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		typ := update.Type
		if typ == "" {
			typ = "update"
		}
		m.UpdatesPublished.WithLabelValues(typ, outcome).Inc()
		return err
	})
}

// WatchClients exposes the number of connected subscription clients.
func (m *Metrics) WatchClients(count func() int) error {
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "clients",
			Help:      "Number of connected subscription clients",
		},
		func() float64 { return float64(count()) },
	))
}
