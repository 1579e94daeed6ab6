package recorder

import (
	"fmt"
	"time"
)

const minimumTimeout = 10 * time.Millisecond

// backoff grows the polling interval while there is nothing to do or
// polling fails, and resets it once progress is made.
type backoff struct {
	initialTimeout time.Duration
	currentTimeout time.Duration
	maximumTimeout time.Duration
}

func newBackoff(initialTimeout time.Duration, maximumTimeout time.Duration) (*backoff, error) {
	if initialTimeout < minimumTimeout {
		return nil, fmt.Errorf("initial timeout %s less than lower bound %s", initialTimeout, minimumTimeout)
	}
	if maximumTimeout < initialTimeout {
		return nil, fmt.Errorf("maximum timeout %s less than initial timeout %s", maximumTimeout, initialTimeout)
	}
	return &backoff{initialTimeout, initialTimeout, maximumTimeout}, nil
}

// Success resets the backoff.
func (b *backoff) Success() {
	b.currentTimeout = b.initialTimeout
}

// Failure doubles the timeout, up to the maximum.
func (b *backoff) Failure() {
	b.currentTimeout *= 2
	if b.currentTimeout > b.maximumTimeout {
		b.currentTimeout = b.maximumTimeout
	}
}

// Timeout returns the backoff timeout.
func (b *backoff) Timeout() time.Duration {
	return b.currentTimeout
}
