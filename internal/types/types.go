package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Key       string    `json:"id"`
	Name      string    `json:"name"`
	OwnerId   int       `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Message struct {
	RoomKey    string    `json:"room_id"`
	Key        string    `json:"key"`
	AuthorName string    `json:"author_name"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

type TypingIndicator struct {
	RoomKey string `json:"room_id"`
	Label   string `json:"label"`
}

// Session is the server-side record behind a signed-in browser. ExpiresAt is
// fixed at sign-in; activity never moves it.
type Session struct {
	Id           string    `json:"id"`
	UserId       int       `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	Persistent   bool      `json:"persistent"`
}

// RoomsSnapshot is the complete room set at a point in time. Receivers
// replace their local list with it.
type RoomsSnapshot struct {
	Rooms []Room    `json:"rooms"`
	At    time.Time `json:"at"`
}

// RoomSnapshot is the complete state of one room: its messages in store
// order (unsorted) and the shared typing label. A snapshot with Deleted set
// is the last one published for the room.
type RoomSnapshot struct {
	Room     Room            `json:"room"`
	Messages []Message       `json:"messages"`
	Typing   TypingIndicator `json:"typing"`
	Deleted  bool            `json:"deleted,omitempty"`
	At       time.Time       `json:"at"`
}
