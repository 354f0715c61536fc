package p2p

import "context"

// PreConfirmationSubscription is a concrete handle over the
// tx-pre-confirmations topic, resolving §9's Open Question about how the
// embedder should consume one gossip topic in isolation from the general
// event stream: a buffered channel plus a blocking Next, rather than a
// trait object.
type PreConfirmationSubscription struct {
	ch     chan *PreConfirmationMessage
	closed chan struct{}
}

func newPreConfirmationSubscription(buffer int) *PreConfirmationSubscription {
	return &PreConfirmationSubscription{
		ch:     make(chan *PreConfirmationMessage, buffer),
		closed: make(chan struct{}),
	}
}

// deliver enqueues a message, dropping it if the subscriber is too slow to
// keep up rather than blocking the driver goroutine.
func (s *PreConfirmationSubscription) deliver(m *PreConfirmationMessage) bool {
	select {
	case s.ch <- m:
		return true
	default:
		return false
	}
}

// Next blocks until a pre-confirmation message arrives, ctx is canceled,
// or the subscription is closed.
func (s *PreConfirmationSubscription) Next(ctx context.Context) (*PreConfirmationMessage, error) {
	select {
	case <-s.closed:
		return nil, errSubscriptionClosed
	default:
	}

	select {
	case m := <-s.ch:
		return m, nil
	case <-s.closed:
		return nil, errSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops further delivery; a pending or future Next returns
// errSubscriptionClosed.
func (s *PreConfirmationSubscription) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}
