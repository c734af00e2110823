// Package logging provides the process-wide structured logger.
package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	// CorrelationIDKey tags a log line with the inbound request/connection correlation ID.
	CorrelationIDKey contextKey = "correlation_id"
	// RoomTokenKey tags a log line with the room a message pertains to.
	RoomTokenKey contextKey = "room_token"
	// ClientIDKey tags a log line with the connection a message pertains to.
	ClientIDKey contextKey = "client_id"
)

// Initialize sets up the global logger based on the environment.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var config zap.Config
		if development {
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config = zap.NewProductionConfig()
			config.EncoderConfig.TimeKey = "timestamp"
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}

		logger, err = config.Build(zap.AddCallerSkip(1))
	})
	return err
}

// L returns the global logger instance.
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// Info logs a message at InfoLevel, attaching any context-scoped fields.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	L().Info(msg, appendContextFields(ctx, fields)...)
}

// Warn logs a message at WarnLevel, attaching any context-scoped fields.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	L().Warn(msg, appendContextFields(ctx, fields)...)
}

// Error logs a message at ErrorLevel, attaching any context-scoped fields.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	L().Error(msg, appendContextFields(ctx, fields)...)
}

// Debug logs a message at DebugLevel, attaching any context-scoped fields.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	L().Debug(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}

	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if rt, ok := ctx.Value(RoomTokenKey).(string); ok {
		fields = append(fields, zap.String("room_token", rt))
	}
	if cl, ok := ctx.Value(ClientIDKey).(string); ok {
		fields = append(fields, zap.String("client_id", cl))
	}

	fields = append(fields, zap.String("service", "gomoku-server"))
	return fields
}

// WithRoomToken returns a context carrying a room token for subsequent log calls.
func WithRoomToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, RoomTokenKey, token)
}

// WithClientID returns a context carrying a client ID for subsequent log calls.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ClientIDKey, id)
}
