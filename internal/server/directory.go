package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/roomsync/internal/clock"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/rooms"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/npezzotti/roomsync/internal/view"
	"github.com/npezzotti/roomsync/internal/watch"
	"go.uber.org/zap"
)

var (
	ErrRoomNameRequired = errors.New("room name is required")
	ErrNoRoom           = errors.New("room not found")
	ErrNotRoomOwner     = errors.New("only the room owner can delete it")
)

// loadedRooms reaches the room actors running on this server.
type loadedRooms interface {
	UnloadRoom(ctx context.Context, key string, deleted bool) (bool, error)
	RefreshRoom(ctx context.Context, dbRoom database.Room) (bool, error)
}

// Directory is the set of rooms. Every change is followed by a full
// snapshot on the rooms topic.
//
// Create reads the room count and writes the new room in separate steps.
// With the sequential key scheme two concurrent creators can therefore
// derive the same key; the later write renames the earlier room, which keeps
// its owner and messages.
type Directory struct {
	log    *zap.SugaredLogger
	db     database.GoChatRepository
	hub    *watch.Hub
	keys   rooms.KeyScheme
	clock  clock.Clock
	loaded loadedRooms
}

func NewDirectory(log *zap.SugaredLogger, db database.GoChatRepository, hub *watch.Hub, keys rooms.KeyScheme, clk clock.Clock, loaded loadedRooms) *Directory {
	return &Directory{
		log:    log,
		db:     db,
		hub:    hub,
		keys:   keys,
		clock:  clk,
		loaded: loaded,
	}
}

func (d *Directory) Create(ctx context.Context, ownerId int, name string) (types.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Room{}, ErrRoomNameRequired
	}

	count, err := d.db.CountRooms()
	if err != nil {
		return types.Room{}, fmt.Errorf("count rooms: %w", err)
	}

	key, err := d.keys.NextKey(count)
	if err != nil {
		return types.Room{}, fmt.Errorf("next room key: %w", err)
	}

	params := database.CreateRoomParams{
		Key:     key,
		Name:    name,
		OwnerId: ownerId,
	}

	var dbRoom database.Room
	if d.keys.Upsert() {
		dbRoom, err = d.db.UpsertRoom(params)
	} else {
		dbRoom, err = d.db.CreateRoom(params)
	}
	if err != nil {
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}

	if d.keys.Upsert() {
		// the key may belong to a room already loaded under its old name
		if _, err := d.loaded.RefreshRoom(ctx, dbRoom); err != nil {
			d.log.Warnw("failed to refresh loaded room", "room_id", dbRoom.Key, "error", err)
		}
	}

	room := toRoom(dbRoom)
	d.log.Infow("room created", "room_id", room.Key, "owner_id", ownerId)

	if err := d.Refresh(ctx); err != nil {
		d.log.Errorw("failed to publish rooms after create", "error", err)
	}

	return room, nil
}

// Delete removes the room and its messages. Rooms without an owner can be
// deleted by anyone.
func (d *Directory) Delete(ctx context.Context, userId int, key string) error {
	dbRoom, err := d.db.GetRoomByKey(key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoRoom
		}
		return fmt.Errorf("get room: %w", err)
	}

	if dbRoom.OwnerId != 0 && dbRoom.OwnerId != userId {
		return ErrNotRoomOwner
	}

	if err := d.db.DeleteRoom(dbRoom.Id); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	d.log.Infow("room deleted", "room_id", key, "user_id", userId)

	loaded, err := d.loaded.UnloadRoom(ctx, key, true)
	if err != nil {
		d.log.Warnw("failed to unload deleted room", "room_id", key, "error", err)
	}
	if !loaded {
		// no local actor published the final snapshot
		if err := d.hub.PublishFinal(ctx, watch.RoomTopic(key), types.RoomSnapshot{
			Room:     toRoom(dbRoom),
			Messages: []types.Message{},
			Typing:   types.TypingIndicator{RoomKey: key},
			Deleted:  true,
			At:       d.clock.Now().UTC(),
		}); err != nil {
			d.log.Errorw("failed to publish deleted room", "room_id", key, "error", err)
		}
	}

	if err := d.Refresh(ctx); err != nil {
		d.log.Errorw("failed to publish rooms after delete", "error", err)
	}

	return nil
}

func (d *Directory) List(_ context.Context) ([]types.Room, error) {
	dbRooms, err := d.db.ListRooms()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	list := make([]types.Room, 0, len(dbRooms))
	for _, r := range dbRooms {
		list = append(list, toRoom(r))
	}
	return list, nil
}

// Refresh publishes the current room set to every watcher.
func (d *Directory) Refresh(ctx context.Context) error {
	list, err := d.List(ctx)
	if err != nil {
		return err
	}

	return d.hub.Publish(ctx, watch.TopicRooms, types.RoomsSnapshot{
		Rooms: list,
		At:    d.clock.Now().UTC(),
	})
}

// Messages returns a room's messages in display order.
func (d *Directory) Messages(_ context.Context, key string) ([]types.Message, error) {
	dbRoom, err := d.db.GetRoomByKey(key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRoom
		}
		return nil, fmt.Errorf("get room: %w", err)
	}

	dbMessages, err := d.db.GetMessages(dbRoom.Id)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, m := range dbMessages {
		messages = append(messages, types.Message{
			RoomKey:    key,
			Key:        m.Key,
			AuthorName: m.AuthorName,
			Body:       m.Body,
			SentAt:     m.SentAt,
		})
	}
	return view.SortMessages(messages), nil
}

func toRoom(r database.Room) types.Room {
	return types.Room{
		Key:       r.Key,
		Name:      r.Name,
		OwnerId:   r.OwnerId,
		CreatedAt: r.CreatedAt,
	}
}
