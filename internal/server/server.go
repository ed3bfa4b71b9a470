package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/npezzotti/roomsync/internal/clock"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/rooms"
	"github.com/npezzotti/roomsync/internal/session"
	"github.com/npezzotti/roomsync/internal/stats"
	"github.com/npezzotti/roomsync/internal/watch"
	"go.uber.org/zap"
)

type unloadReq struct {
	key     string
	deleted bool
	done    chan bool
}

type refreshReq struct {
	room database.Room
	done chan bool
}

type ChatServer struct {
	log            *zap.SugaredLogger
	db             database.GoChatRepository
	hub            *watch.Hub
	guard          *session.Guard
	stats          stats.StatsProvider
	clock          clock.Clock
	directory      *Directory
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	registerChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan unloadReq
	refreshChan    chan refreshReq
	idleRoomChan   chan *Room
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
}

type Options struct {
	DB    database.GoChatRepository
	Hub   *watch.Hub
	Guard *session.Guard
	Stats stats.StatsProvider
	Clock clock.Clock
	Keys  rooms.KeyScheme
}

func NewChatServer(logger *zap.SugaredLogger, opts Options) (*ChatServer, error) {
	if opts.DB == nil || opts.Hub == nil || opts.Guard == nil {
		return nil, errors.New("chat server requires a database, hub and guard")
	}
	if opts.Stats == nil {
		opts.Stats = stats.NopStats{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Keys == nil {
		opts.Keys = rooms.SequentialKeys{}
	}

	for _, metric := range []string{stats.NumActiveClients, stats.NumActiveRooms, stats.NumMessages} {
		opts.Stats.RegisterMetric(metric)
	}

	cs := &ChatServer{
		log:            logger,
		db:             opts.DB,
		hub:            opts.Hub,
		guard:          opts.Guard,
		stats:          opts.Stats,
		clock:          opts.Clock,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan unloadReq),
		refreshChan:    make(chan refreshReq),
		idleRoomChan:   make(chan *Room),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	cs.directory = NewDirectory(logger, opts.DB, opts.Hub, opts.Keys, opts.Clock, cs)

	return cs, nil
}

func (cs *ChatServer) Directory() *Directory { return cs.directory }

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case client := <-cs.registerChan:
			cs.log.Debugw("adding connection", "user_id", client.user.Id)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Debugw("removing connection", "user_id", client.user.Id)
			cs.removeClient(client)
		case req := <-cs.unloadRoomChan:
			r, ok := cs.rooms[req.key]
			if ok {
				cs.exitRoom(r, exitReq{deleted: req.deleted})
			}
			req.done <- ok
		case req := <-cs.refreshChan:
			r, ok := cs.rooms[req.room.Key]
			if ok {
				select {
				case r.refreshChan <- req.room:
				default:
					cs.log.Warnw("refresh channel full", "room_id", req.room.Key)
				}
			}
			req.done <- ok
		case r := <-cs.idleRoomChan:
			if cs.rooms[r.key] == r {
				cs.exitRoom(r, exitReq{idle: true})
			}
		case <-cs.stop:
			cs.log.Infow("shutting down rooms")
			for _, r := range cs.rooms {
				cs.exitRoom(r, exitReq{})
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoin(joinMsg *ClientMessage) {
	key := joinMsg.Join.RoomId

	room, ok := cs.rooms[key]
	if !ok {
		dbRoom, err := cs.db.GetRoomByKey(key)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
			} else {
				cs.log.Errorw("failed to load room", "room_id", key, "error", err)
				joinMsg.client.queueMessage(ErrInternalError(joinMsg.Id))
			}
			return
		}

		// a room reusing the key of a deleted one starts from a clean topic
		cs.hub.Forget(watch.RoomTopic(key))

		room = newRoom(cs, dbRoom)
		cs.rooms[key] = room
		cs.stats.Incr(stats.NumActiveRooms)
		go room.start()
	}

	select {
	case room.joinChan <- joinMsg:
	default:
		cs.log.Warnw("join channel full", "room_id", key)
		joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
	}
}

// exitRoom stops r and waits for it. Idle requests may be refused by a room
// that gained a client in the meantime.
func (cs *ChatServer) exitRoom(r *Room, req exitReq) {
	req.done = make(chan bool, 1)
	r.exit <- req
	if exited := <-req.done; !exited {
		return
	}
	<-r.done

	delete(cs.rooms, r.key)
	cs.stats.Decr(stats.NumActiveRooms)
}

// UnloadRoom stops the room's actor if it is loaded on this server. With
// deleted set the room publishes its final snapshot before exiting. It
// reports whether the room was loaded.
func (cs *ChatServer) UnloadRoom(ctx context.Context, key string, deleted bool) (bool, error) {
	req := unloadReq{key: key, deleted: deleted, done: make(chan bool, 1)}

	select {
	case cs.unloadRoomChan <- req:
	case <-cs.done:
		return false, errors.New("chat server stopped")
	case <-ctx.Done():
		return false, fmt.Errorf("unload room %q: %w", key, ctx.Err())
	}

	select {
	case loaded := <-req.done:
		return loaded, nil
	case <-ctx.Done():
		return false, fmt.Errorf("unload room %q: %w", key, ctx.Err())
	}
}

// RefreshRoom hands the stored row of a room to its actor, if loaded, so
// watchers see the new name. It reports whether the room was loaded.
func (cs *ChatServer) RefreshRoom(ctx context.Context, dbRoom database.Room) (bool, error) {
	req := refreshReq{room: dbRoom, done: make(chan bool, 1)}

	select {
	case cs.refreshChan <- req:
	case <-cs.done:
		return false, errors.New("chat server stopped")
	case <-ctx.Done():
		return false, fmt.Errorf("refresh room %q: %w", dbRoom.Key, ctx.Err())
	}

	select {
	case loaded := <-req.done:
		return loaded, nil
	case <-ctx.Done():
		return false, fmt.Errorf("refresh room %q: %w", dbRoom.Key, ctx.Err())
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	select {
	case cs.registerChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) deRegisterClient(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; ok {
		return
	}
	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.NumActiveClients)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; !ok {
		return
	}
	delete(cs.clients, c)
	cs.stats.Decr(stats.NumActiveClients)
}

func (cs *ChatServer) NumClients() int {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	return len(cs.clients)
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Infow("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat server shutdown: %w", ctx.Err())
	}
}
