// Package legacy reads the single-document export of the hosted chat store
// and loads it into the database.
//
// The export holds the room directory as one document whose fields are
// named room<N>, and one document per room whose fields are the messages
// (message_<epoch-millis>) and the shared typing label:
//
//	{
//	  "chatrooms": {"room1": "General", "room2": "Random"},
//	  "rooms": {
//	    "room1": {
//	      "typing": "alice is typing...",
//	      "message_1700000000000": {"author": "alice", "text": "hi"}
//	    }
//	  }
//	}
package legacy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/npezzotti/roomsync/internal/rooms"
)

const typingField = "typing"

var ErrNoDirectory = errors.New("export has no chatrooms document")

type Export struct {
	Rooms []Room
	// Skipped lists fields that did not follow a known naming convention.
	Skipped []string
}

type Room struct {
	Key      string
	Name     string
	Typing   string
	Messages []Message
}

type Message struct {
	Key        string
	AuthorName string
	Body       string
	SentAt     time.Time
}

type document struct {
	Chatrooms map[string]string                     `json:"chatrooms"`
	Rooms     map[string]map[string]json.RawMessage `json:"rooms"`
}

// messageValue accepts the field shapes seen in exports: an object with
// author and text, or a bare string body.
type messageValue struct {
	Author string `json:"author"`
	User   string `json:"user"`
	Text   string `json:"text"`
	Body   string `json:"body"`
}

func (m *messageValue) UnmarshalJSON(data []byte) error {
	var body string
	if err := json.Unmarshal(data, &body); err == nil {
		m.Text = body
		return nil
	}

	type plain messageValue
	return json.Unmarshal(data, (*plain)(m))
}

func (m messageValue) author() string {
	if m.Author != "" {
		return m.Author
	}
	return m.User
}

func (m messageValue) body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Body
}

// Decode reads an export. Rooms come back in room number order and messages
// in send order.
func Decode(r io.Reader) (*Export, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	if doc.Chatrooms == nil {
		return nil, ErrNoDirectory
	}

	export := &Export{}
	for key, name := range doc.Chatrooms {
		if !rooms.IsSequentialKey(key) {
			export.Skipped = append(export.Skipped, "chatrooms."+key)
			continue
		}

		room := Room{Key: key, Name: name}
		for field, raw := range doc.Rooms[key] {
			switch {
			case field == typingField:
				if err := json.Unmarshal(raw, &room.Typing); err != nil {
					return nil, fmt.Errorf("room %s: typing: %w", key, err)
				}
			case rooms.IsMessageKey(field):
				msg, err := decodeMessage(field, raw)
				if err != nil {
					export.Skipped = append(export.Skipped, "rooms."+key+"."+field)
					continue
				}
				room.Messages = append(room.Messages, msg)
			default:
				export.Skipped = append(export.Skipped, "rooms."+key+"."+field)
			}
		}

		sort.Slice(room.Messages, func(i, j int) bool {
			return room.Messages[i].SentAt.Before(room.Messages[j].SentAt)
		})
		export.Rooms = append(export.Rooms, room)
	}

	sort.Slice(export.Rooms, func(i, j int) bool {
		a, _ := rooms.SequentialIndex(export.Rooms[i].Key)
		b, _ := rooms.SequentialIndex(export.Rooms[j].Key)
		return a < b
	})
	sort.Strings(export.Skipped)

	return export, nil
}

func decodeMessage(field string, raw json.RawMessage) (Message, error) {
	sentAt, ok := rooms.MessageSentAt(field)
	if !ok {
		return Message{}, fmt.Errorf("message key %q", field)
	}

	var v messageValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return Message{}, fmt.Errorf("message %q: %w", field, err)
	}

	return Message{
		Key:        field,
		AuthorName: v.author(),
		Body:       v.body(),
		SentAt:     sentAt,
	}, nil
}
