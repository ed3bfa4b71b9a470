package rooms

import (
	"strconv"
	"strings"
	"time"
)

const messagePrefix = "message_"

// MessageKey names a message by its send time in epoch milliseconds.
func MessageKey(sentAt time.Time) string {
	return messagePrefix + strconv.FormatInt(sentAt.UnixMilli(), 10)
}

// MessageSentAt returns the send time encoded in a message_<millis> key.
func MessageSentAt(key string) (time.Time, bool) {
	ms, ok := strings.CutPrefix(key, messagePrefix)
	if !ok || ms == "" {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(n).UTC(), true
}

func IsMessageKey(key string) bool {
	_, ok := MessageSentAt(key)
	return ok
}
