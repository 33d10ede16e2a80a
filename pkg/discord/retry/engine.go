// Package retry runs remote calls with bounded exponential backoff.
//
// The first attempt of every call runs on the caller's goroutine. Calls that
// fail with a retryable classification are handed to a single FIFO queue
// drained by one consumer goroutine, so retries never run in parallel and a
// call sleeping in backoff never delays another caller's first attempt.
package retry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/discordbridge/pkg/discord/errclass"
)

var ErrClosed = errors.New("retry engine closed")

// Func is one remote call. It is invoked once per attempt.
type Func func(ctx context.Context) (any, error)

// Op names a call for logging and error context.
type Op struct {
	Name   string
	Target string
}

type task struct {
	ctx       context.Context
	op        Op
	call      Func
	attempts  int
	lastErr   error
	nextDelay time.Duration
	result    chan outcome
}

type outcome struct {
	value any
	err   error
}

func (t *task) finish(value any, err error) {
	select {
	case t.result <- outcome{value: value, err: err}:
	default:
	}
}

type Option func(*Engine)

// WithClassifier replaces errclass.Classify.
func WithClassifier(f func(error) errclass.Classified) Option {
	return func(e *Engine) {
		if f != nil {
			e.classify = f
		}
	}
}

// WithAfter replaces time.After for backoff waits.
func WithAfter(f func(time.Duration) <-chan time.Time) Option {
	return func(e *Engine) {
		if f != nil {
			e.after = f
		}
	}
}

// Engine owns the retry queue and its consumer goroutine.
type Engine struct {
	cfg      Config
	classify func(error) errclass.Classified
	after    func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	queue  []*task
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		classify: errclass.Classify,
		after:    time.After,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.consume()
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// Run is the typed form of Engine.Do.
func Run[T any](ctx context.Context, e *Engine, op Op, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := e.Do(ctx, op, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return out, nil
}

// Do runs call until it succeeds, fails terminally, or exhausts MaxAttempts.
// Terminal failures are returned as *errclass.Error carrying the attempt count.
func (e *Engine) Do(ctx context.Context, op Op, call Func) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.isClosed() {
		return nil, errclass.Wrap(op.Name, op.Target, 0, ErrClosed)
	}

	value, err := call(ctx)
	if err == nil {
		return value, nil
	}
	c := e.classify(err)
	if !c.Retryable || e.cfg.MaxAttempts <= 1 {
		return nil, e.terminal(op, 1, err, c)
	}

	t := &task{
		ctx:       ctx,
		op:        op,
		call:      call,
		attempts:  1,
		lastErr:   err,
		nextDelay: e.delayFor(c, 1),
		result:    make(chan outcome, 1),
	}
	log.Debug().
		Str("component", "discord.retry").
		Str("op", op.Name).
		Str("target", op.Target).
		Int("attempt", 1).
		Str("kind", c.Kind.String()).
		Dur("delay", t.nextDelay).
		Msg("retryable failure, queued")
	if !e.enqueue(t) {
		return nil, errclass.Wrap(op.Name, op.Target, 1, ErrClosed)
	}

	select {
	case out := <-t.result:
		return out.value, out.err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), op.Name)
	}
}

// Pending reports how many calls are waiting in the retry queue.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Close fails every queued call with ErrClosed and stops the consumer.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	pending := e.queue
	e.queue = nil
	e.mu.Unlock()

	close(e.stop)
	for _, t := range pending {
		t.finish(nil, errclass.Wrap(t.op.Name, t.op.Target, t.attempts, ErrClosed))
	}
	<-e.done
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) enqueue(t *task) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, t)
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

func (e *Engine) dequeue() (*task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil, false
	}
	t := e.queue[0]
	e.queue = e.queue[1:]
	return t, true
}

func (e *Engine) consume() {
	defer close(e.done)
	for {
		t, ok := e.dequeue()
		if !ok {
			select {
			case <-e.stop:
				return
			case <-e.wake:
				continue
			}
		}
		if !e.process(t) {
			return
		}
	}
}

// process waits out the task's backoff and runs one attempt. It returns false
// once the engine is stopping.
func (e *Engine) process(t *task) bool {
	if err := t.ctx.Err(); err != nil {
		t.finish(nil, errors.Wrap(err, t.op.Name))
		return true
	}
	select {
	case <-e.stop:
		t.finish(nil, errclass.Wrap(t.op.Name, t.op.Target, t.attempts, ErrClosed))
		return false
	case <-t.ctx.Done():
		t.finish(nil, errors.Wrap(t.ctx.Err(), t.op.Name))
		return true
	case <-e.after(t.nextDelay):
	}

	value, err := t.call(t.ctx)
	t.attempts++
	if err == nil {
		log.Debug().
			Str("component", "discord.retry").
			Str("op", t.op.Name).
			Str("target", t.op.Target).
			Int("attempt", t.attempts).
			Msg("retry succeeded")
		t.finish(value, nil)
		return true
	}

	c := e.classify(err)
	if !c.Retryable || t.attempts >= e.cfg.MaxAttempts {
		t.finish(nil, e.terminal(t.op, t.attempts, err, c))
		return true
	}
	t.lastErr = err
	t.nextDelay = e.delayFor(c, t.attempts)
	log.Debug().
		Str("component", "discord.retry").
		Str("op", t.op.Name).
		Str("target", t.op.Target).
		Int("attempt", t.attempts).
		Str("kind", c.Kind.String()).
		Dur("delay", t.nextDelay).
		Msg("retryable failure, requeued")
	if !e.enqueue(t) {
		t.finish(nil, errclass.Wrap(t.op.Name, t.op.Target, t.attempts, ErrClosed))
		return false
	}
	return true
}

func (e *Engine) delayFor(c errclass.Classified, attempts int) time.Duration {
	d := NextDelay(e.cfg, attempts)
	if c.RetryAfter > d {
		d = c.RetryAfter
	}
	if e.cfg.MaxDelay > 0 && d > e.cfg.MaxDelay {
		d = e.cfg.MaxDelay
	}
	return d
}

func (e *Engine) terminal(op Op, attempts int, err error, c errclass.Classified) error {
	out := &errclass.Error{Classified: c, Op: op.Name, Target: op.Target, Attempts: attempts, Err: err}
	ev := log.Debug()
	if c.Retryable {
		ev = log.Warn()
	}
	ev.Err(err).
		Str("component", "discord.retry").
		Str("op", op.Name).
		Str("target", op.Target).
		Int("attempts", attempts).
		Str("kind", c.Kind.String()).
		Msg("call failed")
	return out
}
