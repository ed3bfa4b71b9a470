package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/roomsync/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	WatchRooms   *WatchRooms   `json:"watch_rooms,omitempty"`
	UnwatchRooms *UnwatchRooms `json:"unwatch_rooms,omitempty"`
	Join         *Join         `json:"join,omitempty"`
	Leave        *Leave        `json:"leave,omitempty"`
	Publish      *Publish      `json:"publish,omitempty"`
	Typing       *Typing       `json:"typing,omitempty"`
	UserId       int           `json:"-"`
	client       *Client       `json:"-"`
}

type WatchRooms struct{}

type UnwatchRooms struct{}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	RoomId string `json:"room_id"`
}

type Publish struct {
	RoomId string `json:"room_id"`
	Body   string `json:"body"`
}

type Typing struct {
	RoomId string `json:"room_id"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response            `json:"response,omitempty"`
	Rooms        *types.RoomsSnapshot `json:"rooms,omitempty"`
	Room         *types.RoomSnapshot  `json:"room,omitempty"`
	Notification *Notification        `json:"notification,omitempty"`
	// closeAfter makes the write pump close the connection once the
	// message is written.
	closeAfter bool
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	SessionExpired   *SessionExpired   `json:"session_expired,omitempty"`
	RoomDeleted      *RoomDeleted      `json:"room_deleted,omitempty"`
	SelectionCleared *SelectionCleared `json:"selection_cleared,omitempty"`
}

type SessionExpired struct {
	Redirect string `json:"redirect"`
}

type RoomDeleted struct {
	RoomId string `json:"room_id"`
}

type SelectionCleared struct {
	RoomId string `json:"room_id"`
}

func response(id, code int, errMsg string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return response(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int) *ServerMessage {
	return response(id, http.StatusAccepted, "", nil)
}

func ErrRoomNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "room not found", nil)
}

func ErrNotJoined(id int) *ServerMessage {
	return response(id, http.StatusConflict, "room not joined", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return response(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return response(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := response(0, http.StatusBadRequest, "invalid message format", nil)
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func RoomsMessage(snap types.RoomsSnapshot) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Rooms:       &snap,
	}
}

func RoomMessage(snap types.RoomSnapshot) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Room:        &snap,
	}
}

func NotifySessionExpired(redirect string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			SessionExpired: &SessionExpired{Redirect: redirect},
		},
		closeAfter: true,
	}
}

func NotifyRoomDeleted(roomId string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			RoomDeleted: &RoomDeleted{RoomId: roomId},
		},
	}
}

func NotifySelectionCleared(roomId string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			SelectionCleared: &SelectionCleared{RoomId: roomId},
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
