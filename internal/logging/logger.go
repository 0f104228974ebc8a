// Package logging adapts zap to the types.Logger interface
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gatewaycore/internal/types"
)

// New builds a zap logger for the given level and format (json or console)
func New(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	config := zap.NewProductionConfig()
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	return config.Build()
}

// Wrap wraps a zap.Logger to implement types.Logger
func Wrap(z *zap.Logger) types.Logger {
	return &zapLogger{zap: z}
}

// Nop returns a logger that discards everything
func Nop() types.Logger {
	return &zapLogger{zap: zap.NewNop()}
}

type zapLogger struct {
	zap *zap.Logger
}

func (z *zapLogger) Debug(msg string, fields ...interface{}) {
	z.zap.Debug(msg, toFields(fields)...)
}

func (z *zapLogger) Info(msg string, fields ...interface{}) {
	z.zap.Info(msg, toFields(fields)...)
}

func (z *zapLogger) Warn(msg string, fields ...interface{}) {
	z.zap.Warn(msg, toFields(fields)...)
}

func (z *zapLogger) Error(msg string, fields ...interface{}) {
	z.zap.Error(msg, toFields(fields)...)
}

func (z *zapLogger) With(fields ...interface{}) types.Logger {
	return &zapLogger{zap: z.zap.With(toFields(fields)...)}
}

// toFields converts alternating key/value pairs. Errors get zap's error
// encoding; a dangling key is kept with a nil value.
func toFields(fields []interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, (len(fields)+1)/2)
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprint(fields[i])
		}
		if i+1 >= len(fields) {
			zapFields = append(zapFields, zap.Any(key, nil))
			break
		}
		if err, ok := fields[i+1].(error); ok {
			zapFields = append(zapFields, zap.NamedError(key, err))
			continue
		}
		zapFields = append(zapFields, zap.Any(key, fields[i+1]))
	}
	return zapFields
}
