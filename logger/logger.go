package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// Logger wraps zap logger with payment-flow helpers
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// Config represents logger configuration
type Config struct {
	Level       string   `yaml:"level"`
	Environment string   `yaml:"environment"`
	OutputPaths []string `yaml:"output_paths"`
}

// New - build a logger instance. There is no package-level logger; the
// application root owns the instance and hands it to components.
func New(config Config) (*Logger, error) {
	var zapConfig zap.Config
	if config.Environment == "production" {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	if config.Level == "" {
		config.Level = "info"
	}
	level, err := zap.ParseAtomicLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level = level

	if len(config.OutputPaths) > 0 {
		zapConfig.OutputPaths = config.OutputPaths
	}
	zapConfig.InitialFields = map[string]interface{}{
		"service": "fxpay",
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return wrap(zapLogger), nil
}

// Nop - logger that discards everything
func Nop() *Logger {
	return wrap(zap.NewNop())
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// FromZap wraps an existing zap logger, e.g. one backed by zaptest/observer.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		return Nop()
	}
	return wrap(z)
}

func wrap(z *zap.Logger) *Logger {
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// With returns a child logger carrying fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	return wrap(l.Logger.With(fields...))
}

// Named returns a child logger scoped to a component
func (l *Logger) Named(component string) *Logger {
	return wrap(l.Logger.Named(component))
}

// WithError returns a child logger carrying err
func (l *Logger) WithError(err error) *Logger {
	return l.With(zap.Error(err))
}

// Sugar returns the sugared logger
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// LogStateTransition logs a payment state machine step
func (l *Logger) LogStateTransition(attemptID, from, to string) {
	l.Debug("Payment state transition",
		zap.String("attempt_id", attemptID),
		zap.String("from", from),
		zap.String("to", to),
	)
}

// LogTransaction logs a broadcast transaction
func (l *Logger) LogTransaction(kind, txHash string, fields ...zap.Field) {
	l.Info("Transaction sent",
		append([]zap.Field{zap.String("kind", kind), zap.String("tx_hash", txHash)}, fields...)...,
	)
}

// LogRPCCall logs an RPC call outcome
func (l *Logger) LogRPCCall(method string, err error, fields ...zap.Field) {
	fields = append([]zap.Field{zap.String("method", method)}, fields...)
	if err != nil {
		l.Warn("RPC call failed", append(fields, zap.Error(err))...)
		return
	}
	l.Debug("RPC call succeeded", fields...)
}
