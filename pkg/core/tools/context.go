package tools

import "context"

// CallContext identifies who a tool call runs for.
type CallContext struct {
	UserID    string
	Timezone  string
	SessionID string
	TraceID   string
}

type callContextKey struct{}

func WithCallContext(ctx context.Context, cc CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

func CallContextFrom(ctx context.Context) CallContext {
	if ctx == nil {
		return CallContext{}
	}
	cc, _ := ctx.Value(callContextKey{}).(CallContext)
	return cc
}
