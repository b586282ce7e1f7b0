// Package metrics exposes prometheus collectors for HTTP traffic and ledger
// events, and wraps each request in an OpenTelemetry span.
package metrics

import (
	"context"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"unlockd/internal/server/service"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "unlockd"

// weiPerEther scales paid amounts into the float value counter.
var weiPerEther = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Metrics owns a private registry so tests can build several instances.
type Metrics struct {
	registry  *prometheus.Registry
	tracer    trace.Tracer
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	events    *prometheus.CounterVec
	volume    *prometheus.CounterVec
}

// New creates and registers all collectors under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "unlockd"
	}
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"route", "method", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_events_total",
		Help:      "Committed ledger changes by event type.",
	}, []string{"type"})
	volume := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_volume_ether_total",
		Help:      "Value moved through the ledger in ether, by direction.",
	}, []string{"direction"})

	registry.MustRegister(requests, durations, events, volume)
	registry.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		registry:  registry,
		tracer:    otel.Tracer(tracerName),
		requests:  requests,
		durations: durations,
		events:    events,
		volume:    volume,
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Emit counts a ledger event. It satisfies service.Emitter.
func (m *Metrics) Emit(_ context.Context, evt service.Event) {
	m.events.WithLabelValues(evt.Type).Inc()

	switch evt.Type {
	case service.EventAccessPurchased:
		m.addVolume("in", evt.Attributes["amount"])
	case service.EventEarningsWithdrawn:
		m.addVolume("out", evt.Attributes["amount"])
	}
}

func (m *Metrics) addVolume(direction, wei string) {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok || v.Sign() <= 0 {
		return
	}
	ether, _ := new(big.Float).Quo(new(big.Float).SetInt(v), weiPerEther).Float64()
	m.volume.WithLabelValues(direction).Add(ether)
}

// Middleware records a span, a request count and a latency observation for
// every request. The route label is the registered echo path, not the raw URL.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			ctx, span := m.tracer.Start(req.Context(), req.Method+" "+route, trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route),
			))
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			span.SetAttributes(attribute.Int("http.status_code", status))
			span.End()

			m.requests.WithLabelValues(route, req.Method, strconv.Itoa(status)).Inc()
			m.durations.WithLabelValues(route, req.Method).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
