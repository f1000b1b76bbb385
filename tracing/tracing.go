// Package tracing wraps a loadcache Loader with OpenTelemetry spans. It is
// optional; nothing in loadcache depends on it.
//
// Loads run detached from the caller that triggered them, so each attempt is
// traced as its own root span named "loadcache.load".
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/loadcache"
)

const instrumentation = "github.com/unkn0wn-root/loadcache/tracing"

type Config struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider

	// RecordKeys adds fmt.Sprint(key) as the cache.key attribute. Off by
	// default since keys often carry user identifiers.
	RecordKeys bool
}

func (c *Config) tracer() trace.Tracer {
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentation)
}

// Loader returns next wrapped in a span per call. If cfg is nil next is
// returned unchanged.
func Loader[K comparable, V any](cfg *Config, cache string, next loadcache.Loader[K, V]) loadcache.Loader[K, V] {
	if cfg == nil {
		return next
	}
	tr := cfg.tracer()
	return func(ctx context.Context, key K) (V, error) {
		ctx, span := tr.Start(ctx, "loadcache.load", trace.WithSpanKind(trace.SpanKindInternal))
		defer span.End()

		attrs := []attribute.KeyValue{attribute.String("cache.name", cache)}
		if cfg.RecordKeys {
			attrs = append(attrs, attribute.String("cache.key", fmt.Sprint(key)))
		}
		span.SetAttributes(attrs...)

		v, err := next(ctx, key)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return v, err
	}
}
