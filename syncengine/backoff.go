package syncengine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// pushBackOff implements the push-retry formula from spec §5: the n-th
// retry waits n·2s. Wrapping it in backoff.WithMaxRetries gives
// push_entity bounded, library-driven retry/sleep without reimplementing
// backoff.Retry's bookkeeping.
type pushBackOff struct {
	attempt int
}

func newPushBackOff() *pushBackOff { return &pushBackOff{} }

func (b *pushBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * 2 * time.Second
}

func (b *pushBackOff) Reset() { b.attempt = 0 }

var _ backoff.BackOff = (*pushBackOff)(nil)

// pullBackOff is the same shape, reused for the pull phase's retry loop.
type pullBackOff struct {
	attempt int
}

func newPullBackOff() *pullBackOff { return &pullBackOff{} }

func (b *pullBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * 2 * time.Second
}

func (b *pullBackOff) Reset() { b.attempt = 0 }

var _ backoff.BackOff = (*pullBackOff)(nil)

// queueRetryDelay is the (retry+1)·3s formula used to schedule the next
// attempt for a row already sitting in sync_queue.
func queueRetryDelay(retryCount int) time.Duration {
	return time.Duration(retryCount+1) * 3 * time.Second
}

// initialQueueDelay is the delay applied the first time a row is enqueued
// after exhausting push_entity's inline retries.
const initialQueueDelay = 60 * time.Second
