package kv

import (
	"context"
	"errors"
)

// UpdateRetry runs st.Update up to attempts times, retrying only when the
// previous attempt lost a race on a watched key. No write from a conflicting
// attempt is visible, so a retry cannot double-apply.
func UpdateRetry(ctx context.Context, st Store, attempts int, fn func(ctx context.Context, tx Tx) error, watch ...string) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = st.Update(ctx, fn, watch...)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
