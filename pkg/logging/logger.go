// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for wisdom-engine components.
//
// The package is a thin layer over Go's standard library slog, configured
// for service deployment:
//
//   - Default: JSON output on stderr
//   - Optional: file logging with automatic directory creation
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("processing turn", "session_id", sessionID)
//	logger.Error("retrieval failed", "error", err)
//
// # File Logging
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "/var/log/wisdom",
//	    Service: "orchestrator",
//	})
//	defer logger.Close()
//
// This creates log files named `{service}_{date}.log` in JSON format.
//
// # Thread Safety
//
// Logger is safe for concurrent use. The underlying slog.Logger is
// thread-safe, and file state is protected by a mutex.
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers must
// ensure API keys and user content are not logged verbatim.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents a logging severity level.
type Level int

const (
	// LevelDebug is for development troubleshooting and verbose output.
	LevelDebug Level = iota

	// LevelInfo is for normal operations (turn start/end, state changes).
	LevelInfo

	// LevelWarn is for recoverable issues (skipped namespace, degraded mode).
	LevelWarn

	// LevelError is for operation failures where the system continues.
	LevelError
)

// String returns the level name in upper case.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a string level name to a Level.
// Unrecognized names default to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config holds logger configuration.
//
// # Description
//
// All fields are optional. The zero value produces an info-level logger
// writing JSON to stderr.
type Config struct {
	// Level is the minimum severity to emit. Default: LevelInfo.
	Level Level

	// LogDir enables file logging when non-empty. The directory is created
	// if missing. Files are named {service}_{date}.log.
	LogDir string

	// Service is the component name used in file names and as the
	// "service" attribute on every record. Default: "wisdom".
	Service string
}

// Logger is a leveled structured logger writing to stderr and optionally
// to a log file.
type Logger struct {
	slogger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New creates a Logger from the given configuration.
//
// # Description
//
// Builds a slog.Logger with a JSON handler on stderr. When LogDir is set,
// a dated log file is opened (created along with the directory if needed)
// and records are written to both destinations. File-open failures are not
// fatal: the logger falls back to stderr-only and reports the problem there.
//
// # Inputs
//
//   - config: Logger configuration. Zero value is valid.
//
// # Outputs
//
//   - *Logger: Ready-to-use logger. Never nil.
func New(config Config) *Logger {
	service := config.Service
	if service == "" {
		service = "wisdom"
	}

	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	handlers := []slog.Handler{slog.NewJSONHandler(os.Stderr, opts)}

	l := &Logger{}

	if config.LogDir != "" {
		if file, err := openLogFile(config.LogDir, service); err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot open log file: %v\n", err)
		} else {
			l.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}

	l.slogger = slog.New(handler).With("service", service)
	return l
}

// Default returns an info-level stderr-only logger.
func Default() *Logger {
	return New(Config{})
}

// Debug logs at debug level with alternating key/value args.
func (l *Logger) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }

// Info logs at info level with alternating key/value args.
func (l *Logger) Info(msg string, args ...any) { l.slogger.Info(msg, args...) }

// Warn logs at warn level with alternating key/value args.
func (l *Logger) Warn(msg string, args ...any) { l.slogger.Warn(msg, args...) }

// Error logs at error level with alternating key/value args.
func (l *Logger) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

// With returns a Logger that includes the given attributes on every record.
// The returned Logger shares the underlying file handle with its parent;
// only the parent's Close releases it.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...)}
}

// Slog returns the underlying slog.Logger for libraries that accept one.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

// SetAsDefault installs the logger's slog.Logger as the process default so
// that package-level slog calls in other components use it.
func (l *Logger) SetAsDefault() {
	slog.SetDefault(l.slogger)
}

// Close flushes and closes the log file, if any. Safe to call on a
// stderr-only logger and safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// multiHandler fans records out to several slog handlers. A record is
// emitted when any handler's level admits it; per-handler filtering still
// applies inside Handle.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

func openLogFile(dir, service string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return file, nil
}
