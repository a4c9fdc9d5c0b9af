package authz

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kompo/authlib/types"
)

// CheckItem is the permission an item is guarded by.
type CheckItem struct {
	Key  string
	Type types.PermissionType
	Team *types.TeamID
}

// FilterOptions configures the behavior of FilterAuthorized.
type FilterOptions struct {
	Tracer trace.Tracer
}

// FilterOption is a function that configures FilterOptions.
type FilterOption func(*FilterOptions)

// WithTracer sets the tracer for FilterAuthorized.
func WithTracer(tracer trace.Tracer) FilterOption {
	return func(o *FilterOptions) {
		o.Tracer = tracer
	}
}

// FilterAuthorized returns an iterator that yields only the items the actor in ctx may access.
// Yields (item, nil) for authorized items, (zero, err) on error and stops.
func FilterAuthorized[T any](
	ctx context.Context,
	checker types.PermissionChecker,
	items iter.Seq[T],
	extractFn func(T) CheckItem,
	opts ...FilterOption,
) iter.Seq2[T, error] {
	options := &FilterOptions{
		Tracer: noop.Tracer{},
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(yield func(T, error) bool) {
		ctx, span := options.Tracer.Start(ctx, "FilterAuthorized")
		defer span.End()

		var total, authorized int
		defer func() { recordFilterMetrics(span, total, authorized) }()

		for item := range items {
			total++
			check := extractFn(item)

			allowed, err := checker.CheckPermission(ctx, check.Key, check.Type, check.Team)
			if err != nil {
				span.RecordError(err)
				var zero T
				yield(zero, err)
				return
			}
			if !allowed {
				continue
			}

			authorized++
			if !yield(item, nil) {
				return
			}
		}
	}
}

func recordFilterMetrics(span trace.Span, total, authorized int) {
	span.SetAttributes(
		attribute.Int("items.total", total),
		attribute.Int("items.authorized", authorized),
	)
}
