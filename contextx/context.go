package contextx

import (
	"context"
)

type contextKey string

const (
	TraceIDKey   contextKey = "orderflow.trace_id"
	RequestIDKey contextKey = "orderflow.request_id"

	AuthPrincipalIDKey contextKey = "orderflow.auth_principal_id" // sub of the verified token
	ActorRoleKey       contextKey = "orderflow.actor_role"        // rol claim (JefeBodega, Operario, Vendedor)
	SourceIPKey        contextKey = "orderflow.source_ip"

	EntryPointKey contextKey = "orderflow.entry_point" // http | consumer | cron
)

func GetTraceID(ctx context.Context) string { return getString(ctx, TraceIDKey, "untriaged") }
func WithTraceID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, TraceIDKey, v)
}

func GetRequestID(ctx context.Context) string { return getString(ctx, RequestIDKey, "") }
func WithRequestID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, RequestIDKey, v)
}

func GetAuthPrincipalID(ctx context.Context) string { return getString(ctx, AuthPrincipalIDKey, "") }
func WithAuthPrincipalID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, AuthPrincipalIDKey, v)
}

func GetActorRole(ctx context.Context) string { return getString(ctx, ActorRoleKey, "") }
func WithActorRole(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, ActorRoleKey, v)
}

func GetSourceIP(ctx context.Context) string { return getString(ctx, SourceIPKey, "") }
func WithSourceIP(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, SourceIPKey, v)
}

func GetEntryPoint(ctx context.Context) string { return getString(ctx, EntryPointKey, "") }
func WithEntryPoint(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, EntryPointKey, v)
}

func getString(ctx context.Context, key contextKey, fallback string) string {
	if ctx == nil {
		return fallback
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v
	}
	return fallback
}
