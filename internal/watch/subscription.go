package watch

import "sync"

// Subscription is a live view of one topic.
type Subscription struct {
	topic  string
	ch     chan Snapshot
	done   chan struct{}
	once   sync.Once
	cancel func()
}

func (s *Subscription) Topic() string { return s.topic }

// C delivers snapshots. Only the newest undelivered snapshot is buffered.
func (s *Subscription) C() <-chan Snapshot { return s.ch }

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel stops delivery. It is safe to call more than once.
func (s *Subscription) Cancel() { s.cancel() }

// offer must be called with the hub lock held.
func (s *Subscription) offer(snap Snapshot) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.ch <- snap:
		return
	default:
	}

	// replace the stale snapshot
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}
