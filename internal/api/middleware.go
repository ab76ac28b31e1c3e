package api

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/rlt-tender/tenderguide/internal/logger"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-User-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// requestID keeps a caller supplied X-Request-ID or assigns a new one, and
// puts a request scoped logger into the request context.
func requestID(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			r := c.Request()
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, id)
			ctx := logger.WithContext(r.Context(), log.With("request_id", id))
			c.SetRequest(r.WithContext(ctx))
			return next(c)
		}
	}
}

// tracing opens a server span per request, continuing any W3C trace context
// the caller sent.
func tracing(tracer trace.Tracer) echo.MiddlewareFunc {
	propagator := otel.GetTextMapPropagator()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			r := c.Request()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attribute.String("http.method", r.Method)),
			)
			defer span.End()

			propagator.Inject(ctx, propagation.HeaderCarrier(c.Response().Header()))
			if sc := span.SpanContext(); sc.HasTraceID() {
				c.Response().Header().Set(HeaderTraceID, sc.TraceID().String())
			}
			c.SetRequest(r.WithContext(ctx))
			return next(c)
		}
	}
}
