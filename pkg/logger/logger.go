// Package logger is the logging seam of the SDK, the fake backend and the commands.
//
// Components depend on the small Logger interface only. Two adapters are provided:
// New wraps any log/slog handler, and NewZerolog wraps a zerolog.Logger. The
// builder returned by NewBuild sets up a zerolog logger writing to a buffer, a file
// or stdout, which is what the commands use.
package logger

import (
	"log/slog"
)

// Logger takes a message and alternating key/value pairs, slog style.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type SlogHandler struct {
	logger *slog.Logger
}

func New(h slog.Handler) *SlogHandler {
	return &SlogHandler{logger: slog.New(h)}
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

// With returns a logger that adds args to every record.
func (handler *SlogHandler) With(args ...any) *SlogHandler {
	return &SlogHandler{logger: handler.logger.With(args...)}
}

type discard struct{}

func (discard) Error(string, ...any) {}
func (discard) Warn(string, ...any)  {}
func (discard) Info(string, ...any)  {}
func (discard) Debug(string, ...any) {}

// Discard drops everything.
var Discard Logger = discard{}
