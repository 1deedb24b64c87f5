package types

import "context"

type contextKey string

const runIDKey contextKey = "run_id"

// WithRunID stores the precomputation run ID in the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// GetRunID retrieves the precomputation run ID from the context.
func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}
