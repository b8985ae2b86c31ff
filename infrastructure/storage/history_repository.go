package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// DefaultReplayLimit bounds how many frames a late joiner receives.
const DefaultReplayLimit = 500

// HistoryFrame is one broadcast kept by the relay for late joiners.
// Payload is the wire payload as received, ciphertext included.
type HistoryFrame struct {
	ID      uuid.UUID       `json:"id"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

type IHistoryRepository interface {
	Append(frame HistoryFrame) error
	Replay(channel string) ([]HistoryFrame, error)
	TruncateEvent(channel, event string, match func(HistoryFrame) bool) (int, error)
}

type HistoryRepository struct {
	db    *badger.DB
	log   *slog.Logger
	limit int
}

var _ IHistoryRepository = (*HistoryRepository)(nil)

func NewHistoryRepository(db *badger.DB, log *slog.Logger, limit int) *HistoryRepository {
	if limit <= 0 {
		limit = DefaultReplayLimit
	}
	return &HistoryRepository{db: db, log: log, limit: limit}
}

// Append persists a frame under "hist:{channel}:{timestamp_padded}:{uuid}".
// The channel is base64 encoded so a ':' inside it never breaks the prefix scan.
func (h *HistoryRepository) Append(frame HistoryFrame) error {
	if frame.ID == uuid.Nil {
		frame.ID = uuid.New()
	}
	if frame.At.IsZero() {
		frame.At = time.Now().UTC()
	}
	bytes, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%019d:%s", prefix(frame.Channel), frame.At.UnixNano(), frame.ID)
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// Replay returns the most recent frames of a channel, oldest first.
func (h *HistoryRepository) Replay(channel string) ([]HistoryFrame, error) {
	var frames []HistoryFrame
	err := h.db.View(func(txn *badger.Txn) error {
		p := []byte(prefix(channel))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(append(p, []byte("9999999999999999999")...)); it.ValidForPrefix(p); it.Next() {
			if len(frames) == h.limit {
				h.log.Debug(fmt.Sprintf("Maximum of %d frames reached", h.limit), "channel", channel)
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var frame HistoryFrame
				if err := json.Unmarshal(value, &frame); err != nil {
					return err
				}
				frames = append(frames, frame)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(frames)
	return frames, nil
}

// TruncateEvent deletes the stored frames of the given event on a channel
// that match, every one of them when match is nil, and returns how many
// were removed.
func (h *HistoryRepository) TruncateEvent(channel, event string, match func(HistoryFrame) bool) (int, error) {
	var keys [][]byte
	err := h.db.View(func(txn *badger.Txn) error {
		p := []byte(prefix(channel))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			err := item.Value(func(value []byte) error {
				var frame HistoryFrame
				if err := json.Unmarshal(value, &frame); err != nil {
					return err
				}
				if frame.Event == event {
					keys = append(keys, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	wb := h.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err = wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err = wb.Flush(); err != nil {
		return 0, err
	}
	h.log.Debug("History truncated", "channel", channel, "event", event, "removed", len(keys))
	return len(keys), nil
}

func prefix(channel string) string {
	return "hist:" + base64.RawURLEncoding.EncodeToString([]byte(channel)) + ":"
}
