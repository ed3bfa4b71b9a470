// Package watch implements live subscriptions to named resources.
//
// A resource is identified by a topic ("rooms", "room:<key>"). Writers
// publish full-state snapshots; every watcher of the topic on every server
// instance receives them. A watcher that falls behind only keeps the newest
// snapshot, since each one supersedes the last.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/roomsync/internal/broker"
	"github.com/npezzotti/roomsync/internal/stats"
	"go.uber.org/zap"
)

const (
	TopicRooms    = "rooms"
	roomPrefix    = "room:"
	brokerSubject = "roomsync.snapshots"
)

func RoomTopic(key string) string { return roomPrefix + key }

type Snapshot struct {
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
	// Final marks the last snapshot of a resource that no longer exists.
	// Watchers receive it; it is not retained.
	Final bool `json:"final,omitempty"`
}

// Decode unmarshals the payload into v.
func (s Snapshot) Decode(v any) error {
	return json.Unmarshal(s.Payload, v)
}

type Hub struct {
	log      *zap.SugaredLogger
	broker   broker.Broker
	stats    stats.StatsProvider
	mu       sync.Mutex
	watchers map[string]map[*Subscription]struct{}
	retained map[string]Snapshot
	unsub    func() error
}

func NewHub(log *zap.SugaredLogger, b broker.Broker, su stats.StatsProvider) *Hub {
	su.RegisterMetric(stats.NumWatchers)
	return &Hub{
		log:      log,
		broker:   b,
		stats:    su,
		watchers: make(map[string]map[*Subscription]struct{}),
		retained: make(map[string]Snapshot),
	}
}

// Start attaches the hub to the broker. Snapshots published before Start are
// not delivered.
func (h *Hub) Start(ctx context.Context) error {
	unsub, err := h.broker.Subscribe(ctx, brokerSubject, h.deliver)
	if err != nil {
		return fmt.Errorf("hub subscribe: %w", err)
	}
	h.unsub = unsub
	return nil
}

// Publish sends v as the new state of topic to every watcher.
func (h *Hub) Publish(ctx context.Context, topic string, v any) error {
	return h.publish(ctx, topic, v, false)
}

// PublishFinal sends v as the last state of topic and drops the topic's
// retained snapshot on every instance.
func (h *Hub) PublishFinal(ctx context.Context, topic string, v any) error {
	return h.publish(ctx, topic, v, true)
}

func (h *Hub) publish(ctx context.Context, topic string, v any, final bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s snapshot: %w", topic, err)
	}

	data, err := json.Marshal(Snapshot{
		Topic:       topic,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
		Final:       final,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot envelope: %w", err)
	}

	if err := h.broker.Publish(ctx, brokerSubject, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Watch subscribes to topic. If a snapshot for the topic has been seen it is
// delivered immediately. The caller must Cancel the subscription.
func (h *Hub) Watch(topic string) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan Snapshot, 1),
		done:  make(chan struct{}),
	}
	sub.cancel = func() { h.remove(sub) }

	h.mu.Lock()
	if h.watchers[topic] == nil {
		h.watchers[topic] = make(map[*Subscription]struct{})
	}
	h.watchers[topic][sub] = struct{}{}
	if snap, ok := h.retained[topic]; ok {
		sub.offer(snap)
	}
	h.mu.Unlock()

	h.stats.Incr(stats.NumWatchers)
	return sub
}

// Forget drops the retained snapshot for topic.
func (h *Hub) Forget(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.retained, topic)
}

// Retained reports whether a snapshot for topic is held for late watchers.
func (h *Hub) Retained(topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.retained[topic]
	return ok
}

// Watchers returns the number of live subscriptions on topic.
func (h *Hub) Watchers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[topic])
}

func (h *Hub) Close() error {
	h.mu.Lock()
	for _, subs := range h.watchers {
		for sub := range subs {
			sub.close()
		}
	}
	h.watchers = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()

	if h.unsub != nil {
		return h.unsub()
	}
	return nil
}

func (h *Hub) deliver(data []byte) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		h.log.Warnw("dropping malformed snapshot", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if snap.Final {
		delete(h.retained, snap.Topic)
	} else {
		h.retained[snap.Topic] = snap
	}
	for sub := range h.watchers[snap.Topic] {
		sub.offer(snap)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	subs, ok := h.watchers[sub.topic]
	if ok {
		if _, found := subs[sub]; !found {
			ok = false
		}
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.watchers, sub.topic)
		}
	}
	sub.close()
	h.mu.Unlock()

	if ok {
		h.stats.Decr(stats.NumWatchers)
	}
}
