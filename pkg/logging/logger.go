// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for workcheck services.
//
// The package is a thin layer over Go's slog with multi-destination
// output:
//
//   - Default: JSON to stderr (container-friendly, one stream to scrape)
//   - Optional: a per-service log file with automatic directory creation
//
// # Basic Usage
//
//	logger, err := logging.New(logging.Config{Service: "chatbot"})
//	if err != nil { ... }
//	defer logger.Close()
//	logger.Slog().Info("webhook received", "event_id", id)
//
// File logging is enabled by setting LogDir; files are named
// {service}_{date}.log and written as JSON lines.
//
// # Thread Safety
//
// Logger is safe for concurrent use; slog handlers serialize writes.
//
// # Security Considerations
//
// Nothing is redacted here. Callers must keep contact numbers, API keys
// and message bodies out of log attributes, or log metadata only
// ("attachments", len(atts) rather than the links themselves).
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Config configures the Logger. The zero value logs JSON to stderr at
// Info level.
type Config struct {
	// Level is the minimum severity emitted.
	Level slog.Level

	// Service names the component; it tags every record and names the
	// log file.
	Service string

	// LogDir enables file output when non-empty. The directory is
	// created if missing.
	LogDir string

	// Console overrides the console destination. Defaults to stderr.
	Console io.Writer
}

// Logger fans records out to the console and, optionally, a file.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// New builds a Logger from the config.
func New(cfg Config) (*Logger, error) {
	if cfg.Service == "" {
		cfg.Service = "workcheck"
	}
	if cfg.Console == nil {
		cfg.Console = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	handlers := []slog.Handler{slog.NewJSONHandler(cfg.Console, opts)}

	var file *os.File
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0750); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", cfg.LogDir, err)
		}
		name := fmt.Sprintf("%s_%s.log", cfg.Service, time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, name),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
	}

	base := slog.New(&fanoutHandler{handlers: handlers}).With("service", cfg.Service)
	return &Logger{slog: base, file: file}, nil
}

// Default returns a stderr-only logger for the named service.
func Default(service string) *Logger {
	l, _ := New(Config{Service: service})
	return l
}

// Slog exposes the underlying slog.Logger for passing to components.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// fanoutHandler duplicates records across destinations. A failed
// destination does not stop the others; the first error is returned.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
