package watch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/npezzotti/roomsync/internal/broker"
	"github.com/npezzotti/roomsync/internal/stats"
	"github.com/npezzotti/roomsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roomsPayload struct {
	Rooms []string `json:"rooms"`
}

func newTestHub(t *testing.T) *Hub {
	h := NewHub(testutil.TestLogger(t), broker.NewLocal(), stats.NopStats{})
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Close() })
	return h
}

func receive(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap := <-sub.C():
		return snap
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for snapshot")
		return Snapshot{}
	}
}

func TestHub_WatchReceivesPublishedSnapshot(t *testing.T) {
	h := newTestHub(t)
	sub := h.Watch(TopicRooms)
	defer sub.Cancel()

	require.NoError(t, h.Publish(context.Background(), TopicRooms, roomsPayload{Rooms: []string{"room1"}}))

	snap := receive(t, sub)
	assert.Equal(t, TopicRooms, snap.Topic)

	var got roomsPayload
	require.NoError(t, snap.Decode(&got))
	assert.Equal(t, []string{"room1"}, got.Rooms)
}

func TestHub_TopicsAreIsolated(t *testing.T) {
	h := newTestHub(t)
	sub := h.Watch(RoomTopic("room1"))
	defer sub.Cancel()

	require.NoError(t, h.Publish(context.Background(), RoomTopic("room2"), roomsPayload{}))

	select {
	case snap := <-sub.C():
		t.Fatalf("unexpected snapshot for %s", snap.Topic)
	default:
	}
}

func TestHub_SlowWatcherOnlySeesNewest(t *testing.T) {
	h := newTestHub(t)
	sub := h.Watch(TopicRooms)
	defer sub.Cancel()

	ctx := context.Background()
	require.NoError(t, h.Publish(ctx, TopicRooms, roomsPayload{Rooms: []string{"room1"}}))
	require.NoError(t, h.Publish(ctx, TopicRooms, roomsPayload{Rooms: []string{"room1", "room2"}}))
	require.NoError(t, h.Publish(ctx, TopicRooms, roomsPayload{Rooms: []string{"room2"}}))

	var got roomsPayload
	require.NoError(t, receive(t, sub).Decode(&got))
	assert.Equal(t, []string{"room2"}, got.Rooms)

	select {
	case <-sub.C():
		t.Fatal("expected superseded snapshots to be dropped")
	default:
	}
}

func TestHub_RetainedSnapshotOnWatch(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.Publish(context.Background(), TopicRooms, roomsPayload{Rooms: []string{"room1"}}))

	assert.True(t, h.Retained(TopicRooms))
	sub := h.Watch(TopicRooms)
	defer sub.Cancel()
	var got roomsPayload
	require.NoError(t, receive(t, sub).Decode(&got))
	assert.Equal(t, []string{"room1"}, got.Rooms)

	h.Forget(TopicRooms)
	assert.False(t, h.Retained(TopicRooms))
	late := h.Watch(TopicRooms)
	defer late.Cancel()
	select {
	case <-late.C():
		t.Fatal("expected no snapshot after Forget")
	default:
	}
}

func TestHub_FinalSnapshotNotRetained(t *testing.T) {
	h := newTestHub(t)
	topic := RoomTopic("room1")
	sub := h.Watch(topic)
	defer sub.Cancel()

	ctx := context.Background()
	require.NoError(t, h.Publish(ctx, topic, roomsPayload{Rooms: []string{"room1"}}))
	receive(t, sub)
	require.True(t, h.Retained(topic))

	require.NoError(t, h.PublishFinal(ctx, topic, roomsPayload{}))
	snap := receive(t, sub)
	assert.True(t, snap.Final)
	assert.False(t, h.Retained(topic))

	late := h.Watch(topic)
	defer late.Cancel()
	select {
	case <-late.C():
		t.Fatal("expected no snapshot for a removed resource")
	default:
	}
}

func TestHub_Cancel(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", stats.NumWatchers).Once()
	su.On("Incr", stats.NumWatchers).Once()
	su.On("Decr", stats.NumWatchers).Once()
	defer su.AssertExpectations(t)

	h := NewHub(testutil.TestLogger(t), broker.NewLocal(), su)
	require.NoError(t, h.Start(context.Background()))

	sub := h.Watch(TopicRooms)
	assert.Equal(t, 1, h.Watchers(TopicRooms))

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, h.Watchers(TopicRooms))

	select {
	case <-sub.Done():
	default:
		t.Fatal("expected Done to be closed after Cancel")
	}

	require.NoError(t, h.Publish(context.Background(), TopicRooms, roomsPayload{}))
	select {
	case <-sub.C():
		t.Fatal("expected no delivery after Cancel")
	default:
	}
}

func TestHub_MalformedSnapshotIgnored(t *testing.T) {
	b := broker.NewLocal()
	h := NewHub(testutil.TestLogger(t), b, stats.NopStats{})
	require.NoError(t, h.Start(context.Background()))

	sub := h.Watch(TopicRooms)
	defer sub.Cancel()

	require.NoError(t, b.Publish(context.Background(), brokerSubject, []byte("not json")))
	select {
	case <-sub.C():
		t.Fatal("expected malformed snapshot to be dropped")
	default:
	}
}

// Two hubs on separate broker connections stand in for two server
// instances. Set ROOMSYNC_TEST_REDIS_URL or ROOMSYNC_TEST_NATS_URL to run.
func TestHub_AcrossInstances(t *testing.T) {
	tcases := []struct {
		name    string
		env     string
		connect func(t *testing.T, url string) broker.Broker
	}{
		{
			name: "redis",
			env:  "ROOMSYNC_TEST_REDIS_URL",
			connect: func(t *testing.T, url string) broker.Broker {
				b, err := broker.NewRedis(context.Background(), url, testutil.TestLogger(t))
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "nats",
			env:  "ROOMSYNC_TEST_NATS_URL",
			connect: func(t *testing.T, url string) broker.Broker {
				b, err := broker.NewNats(url, testutil.TestLogger(t))
				require.NoError(t, err)
				return b
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			url := os.Getenv(tc.env)
			if url == "" {
				t.Skip(tc.env + " not set")
			}

			ctx := context.Background()
			hubs := make([]*Hub, 2)
			for i := range hubs {
				b := tc.connect(t, url)
				hubs[i] = NewHub(testutil.TestLogger(t), b, stats.NopStats{})
				require.NoError(t, hubs[i].Start(ctx))
				t.Cleanup(func() {
					hubs[i].Close()
					b.Close()
				})
			}

			topic := RoomTopic("room-" + tc.name)
			sub := hubs[1].Watch(topic)
			defer sub.Cancel()

			require.NoError(t, hubs[0].Publish(ctx, topic, roomsPayload{Rooms: []string{"room1"}}))
			var got roomsPayload
			require.NoError(t, receive(t, sub).Decode(&got))
			assert.Equal(t, []string{"room1"}, got.Rooms)
			assert.Eventually(t, func() bool { return hubs[1].Retained(topic) }, time.Second, 10*time.Millisecond)

			require.NoError(t, hubs[0].PublishFinal(ctx, topic, roomsPayload{}))
			assert.True(t, receive(t, sub).Final)
			assert.Eventually(t, func() bool { return !hubs[1].Retained(topic) }, time.Second, 10*time.Millisecond)
		})
	}
}
