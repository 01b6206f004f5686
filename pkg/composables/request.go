package composables

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sowflow/sowflow/pkg/constants"
)

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the request logger from the context.
// If the logger is not found, the function will panic.
func UseLogger(ctx context.Context) *logrus.Entry {
	logger, ok := TryUseLogger(ctx)
	if !ok {
		panic("logger not found")
	}
	return logger
}

func TryUseLogger(ctx context.Context) (*logrus.Entry, bool) {
	logger, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry)
	return logger, ok && logger != nil
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, constants.RequestIDKey, requestID)
}

func UseRequestID(ctx context.Context) string {
	id, _ := ctx.Value(constants.RequestIDKey).(string)
	return id
}

// WithActor stores the caller identity resolved by the transport layer.
// Authentication itself happens upstream.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, constants.ActorKey, strings.TrimSpace(actorID))
}

func UseActor(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(constants.ActorKey).(string)
	return actor, ok && actor != ""
}
