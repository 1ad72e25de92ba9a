package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/proposalpricing/internal/actorcontext"
	"github.com/smallbiznis/proposalpricing/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const sessionRoutePrefix = "/api/pricing/sessions/:id"

// GinMiddleware opens a server span per request. Pricing session routes carry
// the session id; engine command spans nest under it.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("proposalpricing/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := correlation.ExtractCorrelationID(ctx); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + c.Request.Method + " " + route)
		span.SetAttributes(SafeAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)...)

		if strings.HasPrefix(route, sessionRoutePrefix) {
			span.SetAttributes(attribute.String("pricing.session_id", c.Param("id")))
		}
		if userID, ok := actorcontext.UserIDFromContext(c.Request.Context()); ok {
			span.SetAttributes(attribute.String("enduser.id", userID.String()))
		}

		switch {
		case status == http.StatusAccepted:
			span.AddEvent("approval_required")
		case status == http.StatusConflict:
			span.AddEvent("pricing_conflict")
		case status >= http.StatusInternalServerError:
			if lastErr := c.Errors.Last(); lastErr != nil {
				span.RecordError(SafeError(lastErr.Err))
			}
			span.SetStatus(codes.Error, "request error")
		}
	}
}
