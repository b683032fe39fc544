package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const projectKey contextKey = "project"

// WithProject returns a context carrying the project name for log correlation.
func WithProject(ctx context.Context, project string) context.Context {
	return context.WithValue(ctx, projectKey, project)
}

// ProjectFrom extracts the project name from the context, or "".
func ProjectFrom(ctx context.Context) string {
	if v, ok := ctx.Value(projectKey).(string); ok {
		return v
	}
	return ""
}

// ContextFields extracts log fields from the context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	if project := ProjectFrom(ctx); project != "" {
		return []zap.Field{zap.String("project", project)}
	}
	return nil
}
