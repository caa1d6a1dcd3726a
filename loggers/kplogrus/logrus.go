// Package kplogrus implements the producer Logger interface with logrus.
package kplogrus

import (
	"github.com/sirupsen/logrus"

	producer "github.com/zacharyestep/kpl-aggregation"
)

// Logger implements a logrus.Logger logger for kinesis-producer
type Logger struct {
	Logger *logrus.Logger
}

// Info logs a message
func (l *Logger) Info(msg string, args ...producer.LogValue) {
	l.Logger.WithFields(fields(args)).Info(msg)
}

// Error logs an error
func (l *Logger) Error(msg string, err error, args ...producer.LogValue) {
	l.Logger.WithFields(fields(args)).WithError(err).Error(msg)
}

func fields(args []producer.LogValue) logrus.Fields {
	out := make(logrus.Fields, len(args))
	for _, v := range args {
		out[v.Name] = v.Value
	}
	return out
}
