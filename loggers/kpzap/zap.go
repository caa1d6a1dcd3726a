// Package kpzap implements the producer Logger interface with zap.
package kpzap

import (
	"go.uber.org/zap"

	producer "github.com/zacharyestep/kpl-aggregation"
)

// Logger implements a zap.Logger logger for kinesis-producer
type Logger struct {
	Logger *zap.Logger
}

// Info logs a message
func (l *Logger) Info(msg string, values ...producer.LogValue) {
	l.Logger.Info(msg, fields(values)...)
}

// Error logs an error
func (l *Logger) Error(msg string, err error, values ...producer.LogValue) {
	l.Logger.Error(msg, append(fields(values), zap.Error(err))...)
}

func fields(values []producer.LogValue) []zap.Field {
	out := make([]zap.Field, len(values))
	for i, v := range values {
		out[i] = zap.Any(v.Name, v.Value)
	}
	return out
}
