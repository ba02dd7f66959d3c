package kit

import "context"

type contextKey string

const (
	TransportKey contextKey = "kit_transport" // "http", "mcp", "cli"
	RequestIDKey contextKey = "kit_request_id"
	TraceIDKey   contextKey = "kit_trace_id"
	DocIDKey     contextKey = "kit_doc_id"
	NamespaceKey contextKey = "kit_namespace"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport defaults to "http".
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithDocID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, DocIDKey, id)
}
func GetDocID(ctx context.Context) string {
	v, _ := ctx.Value(DocIDKey).(string)
	return v
}

func WithNamespace(ctx context.Context, ns string) context.Context {
	return context.WithValue(ctx, NamespaceKey, ns)
}
func GetNamespace(ctx context.Context) string {
	v, _ := ctx.Value(NamespaceKey).(string)
	return v
}
