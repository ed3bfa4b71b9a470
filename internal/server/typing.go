package server

import (
	"time"

	"github.com/npezzotti/roomsync/internal/clock"
)

const (
	typingClearDelay = 3 * time.Second
	typingSuffix     = " is typing..."
)

func typingLabel(name string) string { return name + typingSuffix }

// typingCell is the shared "who is typing" label of a room. Every keystroke
// overwrites the label and schedules its own clear; later keystrokes do not
// postpone earlier clears, so the label may vanish while someone is still
// typing.
type typingCell struct {
	clock  clock.Clock
	label  string
	timers []*clock.Timer
	// expire is called when a clear is due. The owner must then call clear
	// from its own goroutine.
	expire func()
}

func newTypingCell(clk clock.Clock, expire func()) *typingCell {
	return &typingCell{clock: clk, expire: expire}
}

func (t *typingCell) Label() string { return t.label }

func (t *typingCell) set(label string) {
	t.label = label
	t.timers = append(t.timers, t.clock.AfterFunc(typingClearDelay, t.expire))
}

// clear empties the label and reports whether it was set.
func (t *typingCell) clear() bool {
	changed := t.label != ""
	t.label = ""
	return changed
}

// expired drops one fired timer and clears the label.
func (t *typingCell) expired() bool {
	if len(t.timers) > 0 {
		t.timers = t.timers[1:]
	}
	return t.clear()
}

func (t *typingCell) stop() {
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = nil
}
