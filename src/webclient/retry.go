package webclient

import (
	"context"
	"time"
)

// Retry runs fn until it succeeds, returns an error transient rejects, or
// attempts run out. The delay doubles after each failure up to 30s.
func Retry(ctx context.Context, attempts int, initialDelay time.Duration, transient func(error) bool, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}
	delay := initialDelay
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || transient == nil || !transient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	return err
}
