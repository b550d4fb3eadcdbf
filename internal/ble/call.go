// Package ble is the GATT central used to talk to sensors over BlueZ.
package ble

import (
	"context"
	"errors"
)

// ErrNotEnabled is returned while the adapter could not be powered on.
var ErrNotEnabled = errors.New("ble: adapter not enabled")

// call runs fn, which may block inside the stack, and returns early when
// ctx is done. If fn finishes after that, cleanup receives its result.
func call[T any](ctx context.Context, fn func() (T, error), cleanup func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		if cleanup != nil {
			go func() {
				if r := <-done; r.err == nil {
					cleanup(r.v)
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}
