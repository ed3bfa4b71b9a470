// Package rooms allocates keys for new rooms and names their messages.
//
// Two schemes exist. SequentialKeys reproduces the single-document layout
// where rooms were fields named room1, room2, ... and the next suffix was
// the observed room count plus one. ShortIdKeys gives every room an
// independent generated key.
package rooms

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/teris-io/shortid"
)

const (
	SchemeSequential = "sequential"
	SchemeShortId    = "shortid"

	sequentialPrefix = "room"
)

type KeyScheme interface {
	// NextKey returns a key for a room created by a caller that observed
	// count existing rooms.
	NextKey(count int) (string, error)
	// Upsert reports whether a create that hits an existing key replaces
	// that room instead of failing.
	Upsert() bool
}

// SequentialKeys derives keys from the observed room count. Two creators
// that observe the same count produce the same key and the later write wins.
type SequentialKeys struct{}

func (SequentialKeys) NextKey(count int) (string, error) {
	if count < 0 {
		return "", fmt.Errorf("negative room count %d", count)
	}
	return sequentialPrefix + strconv.Itoa(count+1), nil
}

func (SequentialKeys) Upsert() bool { return true }

// IsSequentialKey reports whether key follows the room<N> convention.
func IsSequentialKey(key string) bool {
	_, ok := SequentialIndex(key)
	return ok
}

// SequentialIndex returns N for a key of the form room<N>.
func SequentialIndex(key string) (int, bool) {
	suffix, ok := strings.CutPrefix(key, sequentialPrefix)
	if !ok || suffix == "" {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 || strconv.Itoa(n) != suffix {
		return 0, false
	}
	return n, true
}

type ShortIdKeys struct {
	sid *shortid.Shortid
}

func NewShortIdKeys(worker uint8, seed uint64) (*ShortIdKeys, error) {
	sid, err := shortid.New(worker, shortid.DefaultABC, seed)
	if err != nil {
		return nil, fmt.Errorf("new shortid: %w", err)
	}
	return &ShortIdKeys{sid: sid}, nil
}

func (k *ShortIdKeys) NextKey(int) (string, error) {
	return k.sid.Generate()
}

func (k *ShortIdKeys) Upsert() bool { return false }

// NewKeyScheme returns the scheme registered under name.
func NewKeyScheme(name string, seed uint64) (KeyScheme, error) {
	switch name {
	case SchemeSequential:
		return SequentialKeys{}, nil
	case SchemeShortId, "":
		return NewShortIdKeys(1, seed)
	default:
		return nil, fmt.Errorf("unknown room key scheme %q", name)
	}
}
