// Package tracectx carries a ledger entry's trace_id through a
// context.Context so every worker that touches an entry — collector,
// accounting agent, auditor, match engine, interaction hub — can log and
// report against the same correlation id without threading it through
// every function signature by hand.
package tracectx

import "context"

type traceIDKey struct{}

// WithTraceID returns a copy of ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID returns the trace_id carried by ctx, if any.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey{}).(string)
	return v, ok && v != ""
}
