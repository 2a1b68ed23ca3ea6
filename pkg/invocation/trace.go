package invocation

import "context"

type traceContextKey struct{}

// WithTraceContext attaches an inbound propagation header (e.g. a
// W3C traceparent value) to ctx so that any synchronous outgoing call
// made while handling the current invocation re-attaches the same
// header, letting a causal chain traverse the lattice (spec.md §4.7).
func WithTraceContext(ctx context.Context, traceparent string) context.Context {
	if traceparent == "" {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey{}, traceparent)
}

// TraceContextFromContext returns the propagation header attached by
// WithTraceContext, if any.
func TraceContextFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceContextKey{}).(string)
	return v, ok
}
