package hooks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "sitewatch/pkg/logx"
)

type Handler func(ctx context.Context, ev Event) error

type Middleware func(next Handler) Handler

func Chain(h Handler, m ...Middleware) Handler {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Recover turns a handler panic into an error.
func Recover(log logx.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("hook handler panic", logx.String("kind", ev.Kind.String()), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, ev)
		}
	}
}

// Timeout bounds a single handler call.
func Timeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event) error {
			if d <= 0 {
				return next(ctx, ev)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, ev)
		}
	}
}

type entry struct {
	id uint64
	h  Handler
}

// Registry maps event kinds to handlers. It is safe for concurrent use.
type Registry struct {
	log logx.Logger
	mw  []Middleware

	mu       sync.RWMutex
	seq      uint64
	handlers map[Kind][]entry
}

// NewRegistry wraps every handler with mw, outermost first. Panic recovery
// is always applied innermost.
func NewRegistry(log logx.Logger, mw ...Middleware) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "hooks"))
	return &Registry{
		log:      log,
		mw:       append(append([]Middleware(nil), mw...), Recover(log)),
		handlers: make(map[Kind][]entry),
	}
}

// On registers h for kind. The returned func removes it.
func (r *Registry) On(kind Kind, h Handler) (off func()) {
	if h == nil || !kind.Valid() {
		return func() {}
	}
	wrapped := Chain(h, r.mw...)

	r.mu.Lock()
	r.seq++
	id := r.seq
	r.handlers[kind] = append(r.handlers[kind], entry{id: id, h: wrapped})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			list := r.handlers[kind]
			for i, e := range list {
				if e.id == id {
					r.handlers[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[kind])
}

// Emit runs the handlers of ev.Kind synchronously in registration order.
// Every handler runs; their errors are joined.
func (r *Registry) Emit(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	r.mu.RLock()
	list := append([]entry(nil), r.handlers[ev.Kind]...)
	r.mu.RUnlock()

	if len(list) == 0 {
		r.log.Debug("event without handlers", logx.String("kind", ev.Kind.String()))
		return nil
	}
	var errs []error
	for _, e := range list {
		if err := e.h(ctx, ev); err != nil {
			r.log.Debug("hook handler failed", logx.String("kind", ev.Kind.String()), logx.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
