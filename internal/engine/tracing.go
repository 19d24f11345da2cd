package engine

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Azure/DCS-IdentitySync/internal/engine"

// startRootSpan initiates a new parent trace.
func startRootSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.GetTracerProvider().
		Tracer(tracerName).
		Start(
			ctx,
			name,
			trace.WithNewRoot(),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
}

// startChildSpan creates a new span linked to the parent span from the current context.
func startChildSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return trace.SpanFromContext(ctx).
		TracerProvider().
		Tracer(tracerName).
		Start(ctx, name)
}
