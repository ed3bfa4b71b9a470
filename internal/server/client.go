package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomsync/internal/session"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/npezzotti/roomsync/internal/view"
	"github.com/npezzotti/roomsync/internal/watch"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	guardTimeout   = 5 * time.Second
)

// joinedRoom is a room the client is in and its live view of it.
type joinedRoom struct {
	room   *Room
	sub    *watch.Subscription
	stream view.Stream
}

type Client struct {
	conn        *websocket.Conn
	chatServer  *ChatServer
	log         *zap.SugaredLogger
	user        types.User
	sessionId   string
	displayName string
	send        chan *ServerMessage
	rooms       map[string]*joinedRoom
	roomsLock   sync.RWMutex
	directory   view.Directory
	dirSub      *watch.Subscription
	dirLock     sync.Mutex
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewClient(user types.User, sess types.Session, conn *websocket.Conn, cs *ChatServer, l *zap.SugaredLogger) *Client {
	return &Client{
		conn:        conn,
		chatServer:  cs,
		log:         l.With("user_id", user.Id, "session_id", sess.Id),
		user:        user,
		sessionId:   sess.Id,
		displayName: sess.DisplayName,
		send:        make(chan *ServerMessage, 256),
		rooms:       make(map[string]*joinedRoom),
		stop:        make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debugw("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Errorw("failed to serialize message", "error", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}

			if msg.closeAfter {
				c.sendMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session expired"))
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	expired := false
	defer func() {
		c.cleanup()
		if !expired {
			c.conn.Close()
			c.stopClient()
		}
		c.log.Debugw("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warnw("ws read", "error", err)
			}
			return
		}

		// every frame is user activity
		if !c.checkSession() {
			expired = true
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debugw("error parsing message", "error", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		c.handleMessage(&msg)
	}
}

// checkSession records activity with the guard. If the session is over the
// client is told where to go and the connection is closed after that.
func (c *Client) checkSession() bool {
	ctx, cancel := context.WithTimeout(context.Background(), guardTimeout)
	defer cancel()

	d := c.chatServer.guard.Interact(ctx, c.sessionId, session.ChatRoute)
	if d.Allowed {
		return true
	}

	c.log.Infow("session no longer valid, closing connection", "signed_out", d.SignedOut)
	if !c.queueMessage(NotifySessionExpired(d.Redirect)) {
		c.stopClient()
	}
	return false
}

func (c *Client) handleMessage(msg *ClientMessage) {
	msg.client = c
	msg.UserId = c.user.Id
	msg.Timestamp = Now()

	switch {
	case msg.WatchRooms != nil:
		c.watchRooms(msg.Id)
	case msg.UnwatchRooms != nil:
		c.unwatchRooms(msg.Id)
	case msg.Join != nil:
		c.joinRoom(msg)
	case msg.Leave != nil:
		c.leaveRoom(msg)
	case msg.Publish != nil:
		c.forward(msg, msg.Publish.RoomId)
	case msg.Typing != nil:
		c.forward(msg, msg.Typing.RoomId)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) forward(msg *ClientMessage, roomId string) {
	r := c.getRoom(roomId)
	if r == nil {
		c.queueMessage(ErrNotJoined(msg.Id))
		return
	}

	select {
	case r.clientMsgChan <- msg:
	default:
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		c.log.Warnw("clientMsgChan full", "room_id", roomId)
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warnw("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warnw("write message", "error", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup cancels every subscription the client holds and takes it out of
// its rooms.
func (c *Client) cleanup() {
	c.chatServer.deRegisterClient(c)
	c.leaveAllRooms()
	c.unwatchRooms(0)
}

func (c *Client) watchRooms(id int) {
	c.dirLock.Lock()
	if c.dirSub != nil {
		c.dirLock.Unlock()
		c.queueMessage(NoErrOK(id, nil))
		return
	}
	sub := c.chatServer.hub.Watch(watch.TopicRooms)
	c.dirSub = sub
	c.dirLock.Unlock()

	go c.forwardRooms(sub)

	if !c.chatServer.hub.Retained(watch.TopicRooms) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.chatServer.directory.Refresh(ctx); err != nil {
			c.log.Errorw("failed to publish rooms", "error", err)
			c.queueMessage(ErrInternalError(id))
			return
		}
	}

	c.queueMessage(NoErrOK(id, nil))
}

func (c *Client) unwatchRooms(id int) {
	c.dirLock.Lock()
	if c.dirSub != nil {
		c.dirSub.Cancel()
		c.dirSub = nil
	}
	c.dirLock.Unlock()

	if id > 0 {
		c.queueMessage(NoErrOK(id, nil))
	}
}

func (c *Client) forwardRooms(sub *watch.Subscription) {
	for {
		select {
		case snap := <-sub.C():
			var rooms types.RoomsSnapshot
			if err := snap.Decode(&rooms); err != nil {
				c.log.Warnw("undecodable rooms snapshot", "error", err)
				continue
			}

			c.dirLock.Lock()
			selected := c.directory.Selected()
			cleared := c.directory.Apply(rooms)
			c.dirLock.Unlock()

			c.queueMessage(RoomsMessage(rooms))
			if cleared {
				c.queueMessage(NotifySelectionCleared(selected))
			}
		case <-sub.Done():
			return
		}
	}
}

func (c *Client) forwardRoom(key string, jr *joinedRoom) {
	for {
		select {
		case snap := <-jr.sub.C():
			var room types.RoomSnapshot
			if err := snap.Decode(&room); err != nil {
				c.log.Warnw("undecodable room snapshot", "room_id", key, "error", err)
				continue
			}

			if room.Deleted {
				c.queueMessage(NotifyRoomDeleted(key))
				c.dropRoom(key)
				return
			}

			jr.stream.Apply(room)
			room.Messages = jr.stream.Messages()
			c.queueMessage(RoomMessage(room))
		case <-jr.sub.Done():
			return
		}
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	key := msg.Join.RoomId
	if r := c.getRoom(key); r != nil {
		c.selectRoom(key)
		c.queueMessage(NoErrOK(msg.Id, r.info()))
		return
	}

	select {
	case c.chatServer.joinChan <- msg:
	default:
		c.log.Warnw("joinChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) leaveRoom(msg *ClientMessage) {
	key := msg.Leave.RoomId
	jr := c.takeRoom(key)
	if jr == nil {
		c.queueMessage(ErrNotJoined(msg.Id))
		return
	}

	jr.sub.Cancel()
	c.deselectRoom(key)
	if !jr.room.leave(msg) {
		c.queueMessage(NoErrOK(msg.Id, nil))
	}
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.Lock()
	joined := c.rooms
	c.rooms = make(map[string]*joinedRoom)
	c.roomsLock.Unlock()

	for key, jr := range joined {
		jr.sub.Cancel()
		jr.room.leave(&ClientMessage{
			Leave:  &Leave{RoomId: key},
			UserId: c.user.Id,
			client: c,
		})
	}
}

// dropRoom forgets a room that no longer exists.
func (c *Client) dropRoom(key string) {
	jr := c.takeRoom(key)
	if jr == nil {
		return
	}

	jr.sub.Cancel()
	jr.room.leave(&ClientMessage{
		Leave:  &Leave{RoomId: key},
		UserId: c.user.Id,
		client: c,
	})
}

// addRoom is called by the room once the client has joined it.
func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	if _, ok := c.rooms[r.key]; ok {
		c.roomsLock.Unlock()
		return
	}
	jr := &joinedRoom{
		room: r,
		sub:  c.chatServer.hub.Watch(r.topic()),
	}
	c.rooms[r.key] = jr
	c.roomsLock.Unlock()

	go c.forwardRoom(r.key, jr)
}

func (c *Client) takeRoom(key string) *joinedRoom {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	jr, ok := c.rooms[key]
	if !ok {
		return nil
	}
	delete(c.rooms, key)
	return jr
}

func (c *Client) getRoom(key string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	if jr, ok := c.rooms[key]; ok {
		return jr.room
	}

	return nil
}

// selectRoom marks key as the room on screen once the client is in it. A
// client that does not watch the directory has nothing to select from.
func (c *Client) selectRoom(key string) {
	c.dirLock.Lock()
	defer c.dirLock.Unlock()
	if err := c.directory.Select(key); err != nil {
		c.log.Debugw("room not selected", "room_id", key, "error", err)
	}
}

func (c *Client) deselectRoom(key string) {
	c.dirLock.Lock()
	defer c.dirLock.Unlock()
	if c.directory.Selected() == key {
		c.directory.ClearSelection()
	}
}

// Selected returns the room on screen, empty if none.
func (c *Client) Selected() string {
	c.dirLock.Lock()
	defer c.dirLock.Unlock()
	return c.directory.Selected()
}
