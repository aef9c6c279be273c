// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

// Package logging configures structured logging for the bot: slog with
// stable service attributes and OpenTelemetry trace correlation.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// serviceHandler wraps a slog.Handler, stamping every record with the
// service name and version and, when the context carries a span, the
// trace and span ids.
type serviceHandler struct {
	inner   slog.Handler
	service string
	version string
}

func (h *serviceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.inner.Handle(ctx, r)
}

func (h *serviceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *serviceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &serviceHandler{inner: h.inner.WithAttrs(attrs), service: h.service, version: h.version}
}

func (h *serviceHandler) WithGroup(name string) slog.Handler {
	return &serviceHandler{inner: h.inner.WithGroup(name), service: h.service, version: h.version}
}

// Options tunes Setup.
type Options struct {
	// Format is "json" (default) or "text".
	Format string
	// Level defaults to Info.
	Level slog.Leveler
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// Setup creates a configured slog.Logger.
func Setup(service, version string, opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if opts.Format == "text" {
		inner = slog.NewTextHandler(w, handlerOpts)
	} else {
		inner = slog.NewJSONHandler(w, handlerOpts)
	}

	return slog.New(&serviceHandler{inner: inner, service: service, version: version})
}

// SetDefault installs the configured logger as the process default.
func SetDefault(service, version string, opts Options) {
	slog.SetDefault(Setup(service, version, opts))
}
