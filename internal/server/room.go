package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/rooms"
	"github.com/npezzotti/roomsync/internal/stats"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/npezzotti/roomsync/internal/watch"
	"go.uber.org/zap"
)

const (
	idleRoomTimeout = time.Second * 5
	publishTimeout  = time.Second * 5
	// maxKeyAttempts bounds the retries when another instance took the key
	maxKeyAttempts = 5
)

type exitReq struct {
	// deleted marks the room as removed from the directory.
	deleted bool
	// idle asks the room to exit only if no client is in it.
	idle bool
	done chan bool
}

// Room serializes every write to one room. Each mutation is followed by a
// full snapshot of the room on its watch topic.
type Room struct {
	id        int
	key       string
	name      string
	ownerId   int
	createdAt time.Time
	cs        *ChatServer
	log       *zap.SugaredLogger
	joinChan  chan *ClientMessage
	leaveChan chan *ClientMessage
	// clientMsgChan carries publish and typing frames
	clientMsgChan chan *ClientMessage
	// refreshChan carries the stored row after another write to the room
	refreshChan   chan database.Room
	typingExpired chan struct{}
	typing        *typingCell
	clients       map[*Client]struct{}
	// lastSentAt is the send time of the newest message written by this actor
	lastSentAt time.Time
	// killTimer is used to automatically unload the room when it is no longer active
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func newRoom(cs *ChatServer, dbRoom database.Room) *Room {
	r := &Room{
		id:            dbRoom.Id,
		key:           dbRoom.Key,
		name:          dbRoom.Name,
		ownerId:       dbRoom.OwnerId,
		createdAt:     dbRoom.CreatedAt,
		cs:            cs,
		log:           cs.log.With("room_id", dbRoom.Key),
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		refreshChan:   make(chan database.Room, 16),
		typingExpired: make(chan struct{}, 64),
		clients:       make(map[*Client]struct{}),
		exit:          make(chan exitReq),
		done:          make(chan struct{}),
	}
	r.typing = newTypingCell(cs.clock, r.postTypingExpired)

	// a label left behind by a previous process still gets its clear
	if dbRoom.Typing != "" {
		r.typing.set(dbRoom.Typing)
	}

	return r
}

func (r *Room) info() types.Room {
	return types.Room{
		Key:       r.key,
		Name:      r.name,
		OwnerId:   r.ownerId,
		CreatedAt: r.createdAt,
	}
}

func (r *Room) topic() string { return watch.RoomTopic(r.key) }

func (r *Room) start() {
	r.log.Infow("starting room")
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	defer func() {
		r.killTimer.Stop()
		r.typing.stop()
		close(r.done)
		r.log.Infow("room stopped")
	}()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leave := <-r.leaveChan:
			r.handleLeave(leave)
		case msg := <-r.clientMsgChan:
			switch {
			case msg.Publish != nil:
				r.handlePublish(msg)
			case msg.Typing != nil:
				r.handleTyping(msg)
			}
		case dbRoom := <-r.refreshChan:
			r.handleRefresh(dbRoom)
		case <-r.typingExpired:
			if r.typing.expired() {
				r.saveTyping()
				r.publishSnapshot()
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			if e.idle && len(r.clients) > 0 {
				e.done <- false
				continue
			}
			r.handleRoomExit(e)
			return
		}
	}
}

// postTypingExpired runs on the timer goroutine.
func (r *Room) postTypingExpired() {
	select {
	case r.typingExpired <- struct{}{}:
	case <-r.done:
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Infow("room timed out")
	go func() {
		select {
		case r.cs.idleRoomChan <- r:
		case <-r.cs.stop:
		}
	}()
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Infow("room is exiting", "deleted", e.deleted)

	if e.deleted {
		r.publish(types.RoomSnapshot{
			Room:     r.info(),
			Messages: []types.Message{},
			Typing:   types.TypingIndicator{RoomKey: r.key},
			Deleted:  true,
			At:       r.cs.clock.Now().UTC(),
		})
	}

	// joins that raced with the exit are refused; the client can retry
	for drained := false; !drained; {
		select {
		case join := <-r.joinChan:
			join.client.queueMessage(ErrServiceUnavailable(join.Id))
		default:
			drained = true
		}
	}

	if e.done != nil {
		e.done <- true
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	r.clients[c] = struct{}{}
	c.addRoom(r)
	c.selectRoom(r.key)

	c.queueMessage(NoErrOK(join.Id, r.info()))
	r.publishSnapshot()
}

func (r *Room) handleRefresh(dbRoom database.Room) {
	if dbRoom.Name == r.name && dbRoom.OwnerId == r.ownerId {
		return
	}
	r.log.Infow("room renamed", "name", dbRoom.Name)
	r.name = dbRoom.Name
	r.ownerId = dbRoom.OwnerId
	r.publishSnapshot()
}

func (r *Room) handleLeave(leave *ClientMessage) {
	c := leave.client
	if _, ok := r.clients[c]; !ok {
		r.log.Debugw("leave from client not in room", "user_id", c.user.Id)
		return
	}

	delete(r.clients, c)
	if leave.Id > 0 {
		c.queueMessage(NoErrOK(leave.Id, nil))
	}

	if len(r.clients) == 0 {
		r.log.Debugw("no clients in room, starting kill timer")
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handlePublish(msg *ClientMessage) {
	body := strings.TrimSpace(msg.Publish.Body)
	if body == "" {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if err := r.saveMessage(msg.client.displayName, body); err != nil {
		r.log.Errorw("failed to save message", "error", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	r.cs.stats.Incr(stats.NumMessages)
	msg.client.queueMessage(NoErrAccepted(msg.Id))

	if r.typing.clear() {
		r.saveTyping()
	}
	r.publishSnapshot()
}

// saveMessage appends a message keyed by its send time. Keys never repeat:
// a send time that does not advance past the last one is moved forward a
// millisecond, and so is one already taken by another instance.
func (r *Room) saveMessage(author, body string) error {
	sentAt := r.cs.clock.Now().UTC().Truncate(time.Millisecond)
	if !sentAt.After(r.lastSentAt) {
		sentAt = r.lastSentAt.Add(time.Millisecond)
	}

	for attempt := 1; ; attempt++ {
		err := r.cs.db.InsertMessage(database.Message{
			RoomId:     r.id,
			Key:        rooms.MessageKey(sentAt),
			AuthorName: author,
			Body:       body,
			SentAt:     sentAt,
		})
		if err == nil {
			r.lastSentAt = sentAt
			return nil
		}
		if !errors.Is(err, database.ErrMessageExists) || attempt == maxKeyAttempts {
			return err
		}

		r.log.Debugw("message key taken, retrying", "key", rooms.MessageKey(sentAt))
		sentAt = sentAt.Add(time.Millisecond)
	}
}

func (r *Room) handleTyping(msg *ClientMessage) {
	r.typing.set(typingLabel(msg.client.displayName))
	r.saveTyping()

	if msg.Id > 0 {
		msg.client.queueMessage(NoErrAccepted(msg.Id))
	}
	r.publishSnapshot()
}

func (r *Room) saveTyping() {
	if err := r.cs.db.SetTyping(r.id, r.typing.Label()); err != nil {
		r.log.Warnw("failed to save typing label", "error", err)
	}
}

// publishSnapshot reads the room's messages and sends the full room state to
// its watchers. Failures are logged; the mutation that triggered it stands.
func (r *Room) publishSnapshot() {
	dbMessages, err := r.cs.db.GetMessages(r.id)
	if err != nil {
		r.log.Errorw("failed to load messages for snapshot", "error", err)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, m := range dbMessages {
		messages = append(messages, types.Message{
			RoomKey:    r.key,
			Key:        m.Key,
			AuthorName: m.AuthorName,
			Body:       m.Body,
			SentAt:     m.SentAt,
		})
	}

	r.publish(types.RoomSnapshot{
		Room:     r.info(),
		Messages: messages,
		Typing: types.TypingIndicator{
			RoomKey: r.key,
			Label:   r.typing.Label(),
		},
		At: r.cs.clock.Now().UTC(),
	})
}

func (r *Room) publish(snap types.RoomSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	publish := r.cs.hub.Publish
	if snap.Deleted {
		publish = r.cs.hub.PublishFinal
	}
	if err := publish(ctx, r.topic(), snap); err != nil {
		r.log.Errorw("failed to publish room snapshot", "error", err)
	}
}

// leave removes c from the room unless the room has already stopped.
func (r *Room) leave(msg *ClientMessage) bool {
	select {
	case r.leaveChan <- msg:
		return true
	case <-r.done:
		return false
	default:
		return false
	}
}
