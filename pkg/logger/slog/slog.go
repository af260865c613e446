// Package slog adapts a log/slog handler to the client's logger.Logger.
package slog

import (
	"context"
	"log/slog"

	"github.com/ravendb/ravendb.go/pkg/logger"
)

var _ logger.Logger = (*SlogHandler)(nil)

type SlogHandler struct {
	logger *slog.Logger
}

func New(h slog.Handler) *SlogHandler {
	logger := slog.New(h)
	return &SlogHandler{logger: logger}
}

// With returns a handler that adds the given attributes to every record.
func (handler *SlogHandler) With(args ...any) *SlogHandler {
	return &SlogHandler{logger: handler.logger.With(args...)}
}

// Enabled reports whether debug records would be emitted.
func (handler *SlogHandler) Enabled() bool {
	return handler.logger.Enabled(context.Background(), slog.LevelDebug)
}

func (handler *SlogHandler) Error(msg string, args ...any) {
	handler.logger.Error(msg, args...)
}

func (handler *SlogHandler) Warn(msg string, args ...any) {
	handler.logger.Warn(msg, args...)
}

func (handler *SlogHandler) Info(msg string, args ...any) {
	handler.logger.Info(msg, args...)
}

func (handler *SlogHandler) Debug(msg string, args ...any) {
	handler.logger.Debug(msg, args...)
}
