package contextutil

import (
	"context"
	"net/http"
)

// Store is a typed accessor for a single context value.
type Store[T any] struct {
	key keyWrapper
}

type keyWrapper struct {
	name string
}

func NewStore[T any](key string) *Store[T] {
	return &Store[T]{key: keyWrapper{name: key}}
}

func (s *Store[T]) GetContextWithValue(ctx context.Context, val T) context.Context {
	return context.WithValue(ctx, s.key, val)
}

// GetValueFromContext returns the stored value, or T's zero value if
// none is present.
func (s *Store[T]) GetValueFromContext(ctx context.Context) T {
	val, ok := ctx.Value(s.key).(T)
	if !ok {
		var zero T
		return zero
	}
	return val
}

func (s *Store[T]) GetRequestWithContext(r *http.Request, val T) *http.Request {
	return r.WithContext(s.GetContextWithValue(r.Context(), val))
}
