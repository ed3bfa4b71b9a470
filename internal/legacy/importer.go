package legacy

import (
	"context"
	"fmt"

	"github.com/npezzotti/roomsync/internal/database"
	"go.uber.org/zap"
)

type Result struct {
	Rooms    int
	Messages int
}

type Importer struct {
	log *zap.SugaredLogger
	db  database.GoChatRepository
}

func NewImporter(log *zap.SugaredLogger, db database.GoChatRepository) *Importer {
	return &Importer{log: log, db: db}
}

// Import writes every room of export under its original key. Rooms and
// messages that already exist are overwritten, so an import can be rerun.
func (im *Importer) Import(ctx context.Context, export *Export) (Result, error) {
	var res Result

	for _, r := range export.Rooms {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		dbRoom, err := im.db.UpsertRoom(database.CreateRoomParams{Key: r.Key, Name: r.Name})
		if err != nil {
			return res, fmt.Errorf("import room %s: %w", r.Key, err)
		}

		for _, m := range r.Messages {
			if err := im.db.UpsertMessage(database.Message{
				RoomId:     dbRoom.Id,
				Key:        m.Key,
				AuthorName: m.AuthorName,
				Body:       m.Body,
				SentAt:     m.SentAt,
			}); err != nil {
				return res, fmt.Errorf("import room %s message %s: %w", r.Key, m.Key, err)
			}
			res.Messages++
		}

		if r.Typing != "" {
			if err := im.db.SetTyping(dbRoom.Id, r.Typing); err != nil {
				im.log.Warnw("failed to import typing label", "room_id", r.Key, "error", err)
			}
		}

		res.Rooms++
		im.log.Infow("imported room", "room_id", r.Key, "messages", len(r.Messages))
	}

	for _, field := range export.Skipped {
		im.log.Warnw("skipped field", "field", field)
	}

	return res, nil
}
