package communication

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull      = errors.New("communication queue is full")
	ErrListenerClosed = errors.New("communication listener is closed")
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

type ListenerOption func(*Listener)

func WithWorkers(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.workers = n
		}
	}
}

func WithQueueSize(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

func WithListenerLogger(logger log.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// Listener queues events and dispatches them in the background.
// Delivery is fire and forget: failed dispatches are logged and never retried.
type Listener struct {
	dispatcher EventDispatcher
	logger     log.Logger
	workers    int
	queueSize  int

	mu     sync.RWMutex
	closed bool
	queue  chan Event
}

func NewListener(dispatcher EventDispatcher, opts ...ListenerOption) *Listener {
	l := &Listener{
		dispatcher: dispatcher,
		logger:     log.NewJSONLogger(log.NewSyncWriter(os.Stdout)),
		workers:    defaultWorkers,
		queueSize:  defaultQueueSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.queue = make(chan Event, l.queueSize)
	return l
}

// Handle queues ev without waiting for it to be dispatched.
// Events handed over with a done ctx are not queued.
func (l *Listener) Handle(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrListenerClosed
	}

	select {
	case l.queue <- ev:
		return nil
	default:
		level.Warn(l.logger).Log("msg", "dropping event, queue is full", "trigger", ev.Name())
		return ErrQueueFull
	}
}

// Close stops accepting events. Run returns once the queued events are dispatched.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.queue)
}

// Run dispatches queued events until the listener is closed or ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < l.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-l.queue:
					if !ok {
						return nil
					}
					l.process(ctx, ev)
				}
			}
		})
	}
	return g.Wait()
}

func (l *Listener) process(ctx context.Context, ev Event) {
	if err := l.dispatcher.Dispatch(ctx, ev); err != nil {
		level.Error(l.logger).Log("msg", "failed to dispatch event", "trigger", ev.Name(), "err", err)
	}
}
