package view

import (
	"cmp"
	"slices"

	"github.com/npezzotti/roomsync/internal/types"
)

// Stream mirrors one room's messages and typing label.
type Stream struct {
	room     types.Room
	messages []types.Message
	typing   string
}

// Apply replaces the stream state with snap. Messages arrive in store order
// and are kept sorted ascending by send time, ties broken by key.
func (s *Stream) Apply(snap types.RoomSnapshot) {
	s.room = snap.Room
	s.messages = SortMessages(snap.Messages)
	s.typing = snap.Typing.Label
}

func (s *Stream) Room() types.Room { return s.room }

func (s *Stream) Messages() []types.Message { return slices.Clone(s.messages) }

// Typing returns the shared typing label; empty means no one is typing.
func (s *Stream) Typing() string { return s.typing }

// SortMessages returns a copy of msgs ordered for display.
func SortMessages(msgs []types.Message) []types.Message {
	sorted := slices.Clone(msgs)
	if sorted == nil {
		sorted = []types.Message{}
	}
	slices.SortStableFunc(sorted, func(a, b types.Message) int {
		if c := a.SentAt.Compare(b.SentAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return sorted
}
