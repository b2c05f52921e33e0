package apmz

import (
	"context"
	"sync/atomic"
)

// scopeKeyType is a private type for context keys to avoid collisions.
type scopeKeyType string

const (
	scopeKey scopeKeyType = "apmz"
)

// scope is the execution context's slot for its current trace.
// Contexts are immutable, so the context carries a pointer to this holder.
type scope struct {
	current atomic.Pointer[Trace]
}

// WithScope returns a context carrying an empty trace slot.
// Contexts that already carry one are returned unchanged.
func WithScope(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if scopeFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, scopeKey, &scope{})
}

func scopeFrom(ctx context.Context) *scope {
	if ctx == nil {
		return nil
	}
	if s, ok := ctx.Value(scopeKey).(*scope); ok {
		return s
	}
	return nil
}

// release clears the slot only if t is still the current trace.
func (s *scope) release(t *Trace) bool {
	return s.current.CompareAndSwap(t, nil)
}
