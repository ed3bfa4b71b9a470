// Package broker carries snapshot notifications between server instances.
// Every instance publishes its room mutations and receives everyone's, so
// subscribers connected to any instance see the same stream.
package broker

import (
	"context"
	"fmt"
	"sync"
)

const (
	KindLocal = "local"
	KindRedis = "redis"
	KindNats  = "nats"
)

type Handler func(data []byte)

type Broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe registers h for subject. The returned func removes it.
	Subscribe(ctx context.Context, subject string, h Handler) (func() error, error)
	Close() error
}

// Local delivers messages to handlers in the same process. It is used when
// a single instance serves every client, and in tests.
type Local struct {
	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextId   int
	closed   bool
}

func NewLocal() *Local {
	return &Local{handlers: make(map[string]map[int]Handler)}
}

func (l *Local) Publish(_ context.Context, subject string, data []byte) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return fmt.Errorf("publish %q: broker closed", subject)
	}
	hs := make([]Handler, 0, len(l.handlers[subject]))
	for _, h := range l.handlers[subject] {
		hs = append(hs, h)
	}
	l.mu.RUnlock()

	for _, h := range hs {
		h(data)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, subject string, h Handler) (func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, fmt.Errorf("subscribe %q: broker closed", subject)
	}
	if l.handlers[subject] == nil {
		l.handlers[subject] = make(map[int]Handler)
	}
	id := l.nextId
	l.nextId++
	l.handlers[subject][id] = h

	return func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers[subject], id)
		return nil
	}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handlers = make(map[string]map[int]Handler)
	return nil
}
