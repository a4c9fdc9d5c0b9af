package communication

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Notifier sends the templates of a group to recipients.
type Notifier interface {
	// Notify sends every active template of group to recipients.
	// A non nil channel restricts the templates to that channel.
	Notify(ctx context.Context, group TemplateGroup, recipients []Communicable, channel *Channel, params map[string]any) error
}

// EventDispatcher is implemented by Dispatcher.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

var _ EventDispatcher = (*Dispatcher)(nil)

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithDispatcherTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// WithClock sets the clock used to evaluate group validity.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher notifies the template groups triggered by an event.
type Dispatcher struct {
	store    TemplateGroupStore
	notifier Notifier
	logger   log.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewDispatcher(store TemplateGroupStore, notifier Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		notifier: notifier,
		logger:   log.NewJSONLogger(log.NewSyncWriter(os.Stdout)),
		tracer:   noop.Tracer{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch notifies every valid group whose trigger is the event name.
// All groups are attempted, failures are joined in the returned error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.Dispatch")
	defer span.End()

	trigger := ev.Name()
	span.SetAttributes(attribute.String("trigger", trigger))

	params := MergeParams(ev)

	groups, err := d.store.ForTrigger(ctx, trigger, d.now())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("load template groups for %s: %w", trigger, err)
	}
	span.SetAttributes(attribute.Int("groups", len(groups)))

	recipients := ev.Communicables()

	var errs []error
	for _, group := range groups {
		if err := d.notifier.Notify(ctx, group, recipients, nil, params); err != nil {
			level.Error(d.logger).Log("msg", "failed to notify template group", "trigger", trigger, "group", group.ID, "err", err)
			errs = append(errs, fmt.Errorf("group %s: %w", group.ID, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return err
	}
	level.Debug(d.logger).Log("msg", "event dispatched", "trigger", trigger, "groups", len(groups), "recipients", len(recipients))
	return nil
}
