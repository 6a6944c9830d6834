package azcore

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingOptions configures distributed tracing.
type TracingOptions struct {
	// Provider supplies the tracer. Defaults to the global provider.
	Provider trace.TracerProvider

	// Disabled turns span creation off.
	Disabled bool
}

type tracingPolicy struct {
	tracer   trace.Tracer
	disabled bool
}

func newTracingPolicy(module, version string, o *TracingOptions) *tracingPolicy {
	if o.Disabled {
		return &tracingPolicy{disabled: true}
	}
	provider := o.Provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &tracingPolicy{
		tracer: provider.Tracer(
			"github.com/thand-io/azure-sdk/sdk/"+module,
			trace.WithInstrumentationVersion(version),
		),
	}
}

func (p *tracingPolicy) Do(req *Request) (*http.Response, error) {
	if p.disabled {
		return req.Next()
	}
	raw := req.Raw()
	ctx, span := p.tracer.Start(raw.Context(), raw.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", raw.Method),
			attribute.String("url.full", sanitizeURL(raw.URL, nil)),
			attribute.String("server.address", raw.URL.Host),
			attribute.String("az.client_request_id", raw.Header.Get(headerXMSClientRequestID)),
		),
	)
	defer span.End()

	req = req.Clone(ctx)
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(req.Raw().Header))

	resp, err := req.Next()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if id := resp.Header.Get(headerXMSRequestID); id != "" {
		span.SetAttributes(attribute.String("az.service_request_id", id))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	return resp, nil
}
