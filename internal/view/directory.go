// Package view holds the client-side mirrors of server snapshots: the room
// directory with its current selection, and the message stream of the
// selected room.
package view

import (
	"errors"
	"slices"

	"github.com/npezzotti/roomsync/internal/types"
)

var ErrUnknownRoom = errors.New("room not in directory")

// Directory mirrors the room set. Every snapshot replaces the previous list;
// there is no merging.
type Directory struct {
	rooms    []types.Room
	selected string
}

// Apply replaces the room list with snap. It reports whether the selected
// room disappeared, in which case the selection is cleared.
func (d *Directory) Apply(snap types.RoomsSnapshot) (selectionCleared bool) {
	d.rooms = slices.Clone(snap.Rooms)

	if d.selected != "" && !d.Contains(d.selected) {
		d.selected = ""
		return true
	}

	return false
}

func (d *Directory) Select(key string) error {
	if !d.Contains(key) {
		return ErrUnknownRoom
	}
	d.selected = key
	return nil
}

func (d *Directory) ClearSelection() { d.selected = "" }

func (d *Directory) Selected() string { return d.selected }

func (d *Directory) Contains(key string) bool {
	return slices.ContainsFunc(d.rooms, func(r types.Room) bool { return r.Key == key })
}
