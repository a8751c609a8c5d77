package httpmiddleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentConfig carries the telemetry providers for Instrument.
type InstrumentConfig struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Instrument returns a middleware that wraps the handler in otelhttp server
// instrumentation and counts requests per method and status class.
func Instrument(serviceName string, cfg InstrumentConfig) Middleware {
	meter := cfg.MeterProvider.Meter(serviceName)
	requests, _ := meter.Int64Counter("http.server.requests")

	return func(next http.Handler) http.Handler {
		counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			requests.Add(r.Context(), 1,
				metric.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.Int("http.status_class", rec.status/100),
				),
			)
		})

		return otelhttp.NewHandler(counted, serviceName,
			otelhttp.WithTracerProvider(cfg.TracerProvider),
			otelhttp.WithMeterProvider(cfg.MeterProvider),
		)
	}
}
