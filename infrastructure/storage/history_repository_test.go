package storage

import (
	"encoding/json"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

func openDB(t *testing.T) *badger.DB {
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func frame(channel, event, payload string, at time.Time) HistoryFrame {
	return HistoryFrame{
		ID:      uuid.New(),
		Channel: channel,
		Event:   event,
		Payload: json.RawMessage(payload),
		At:      at,
	}
}

func Test_Replay_Returns_Frames_Oldest_First(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	repository := NewHistoryRepository(openDB(t), log, 0)
	at := time.Now().UTC()

	// Given three frames stored out of order
	frames := []HistoryFrame{
		frame("session:s1", "new_message", `{"n":2}`, at.Add(time.Second)),
		frame("session:s1", "new_message", `{"n":1}`, at),
		frame("session:s1", "whiteboard_op", `{"n":3}`, at.Add(2*time.Second)),
	}
	for _, f := range frames {
		req.NoError(repository.Append(f))
	}

	// When replaying the channel
	replayed, err := repository.Replay("session:s1")

	// Then they come back in chronological order
	req.NoError(err)
	req.Len(replayed, 3)
	req.JSONEq(`{"n":1}`, string(replayed[0].Payload))
	req.JSONEq(`{"n":2}`, string(replayed[1].Payload))
	req.JSONEq(`{"n":3}`, string(replayed[2].Payload))
	req.Equal(frames[1].ID, replayed[0].ID)
}

func Test_Replay_Keeps_Only_The_Most_Recent_Frames(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	repository := NewHistoryRepository(openDB(t), log, 2)
	at := time.Now().UTC()

	for i := 0; i < 5; i++ {
		req.NoError(repository.Append(frame("session:s1", "new_message", `{}`, at.Add(time.Duration(i)*time.Second))))
	}

	replayed, err := repository.Replay("session:s1")
	req.NoError(err)
	req.Len(replayed, 2)
	req.Equal(at.Add(3*time.Second).UnixNano(), replayed[0].At.UnixNano())
	req.Equal(at.Add(4*time.Second).UnixNano(), replayed[1].At.UnixNano())
}

func Test_Channels_Do_Not_Leak_Into_Each_Other(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	repository := NewHistoryRepository(openDB(t), log, 0)
	at := time.Now().UTC()

	// Given a channel name that prefixes another one
	req.NoError(repository.Append(frame("session:s1", "new_message", `{"c":"s1"}`, at)))
	req.NoError(repository.Append(frame("session:s1:x", "new_message", `{"c":"s1:x"}`, at)))

	replayed, err := repository.Replay("session:s1")
	req.NoError(err)
	req.Len(replayed, 1)
	req.JSONEq(`{"c":"s1"}`, string(replayed[0].Payload))

	empty, err := repository.Replay("session:unknown")
	req.NoError(err)
	req.Empty(empty)
}

func Test_TruncateEvent_Removes_Only_That_Event(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	repository := NewHistoryRepository(openDB(t), log, 0)
	at := time.Now().UTC()

	// Given whiteboard operations mixed with chat messages
	req.NoError(repository.Append(frame("session:s1", "whiteboard_op", `{"op":1}`, at)))
	req.NoError(repository.Append(frame("session:s1", "new_message", `{"m":1}`, at.Add(time.Second))))
	req.NoError(repository.Append(frame("session:s1", "whiteboard_op", `{"op":2}`, at.Add(2*time.Second))))
	req.NoError(repository.Append(frame("session:s2", "whiteboard_op", `{"op":3}`, at)))

	// When the whiteboard history of s1 is truncated
	removed, err := repository.TruncateEvent("session:s1", "whiteboard_op", nil)

	// Then only its whiteboard frames are gone
	req.NoError(err)
	req.Equal(2, removed)
	replayed, err := repository.Replay("session:s1")
	req.NoError(err)
	req.Len(replayed, 1)
	req.Equal("new_message", replayed[0].Event)

	other, err := repository.Replay("session:s2")
	req.NoError(err)
	req.Len(other, 1)

	removed, err = repository.TruncateEvent("session:s1", "whiteboard_op", nil)
	req.NoError(err)
	req.Zero(removed)
}

func Test_TruncateEvent_Removes_Only_Matching_Frames(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	repository := NewHistoryRepository(openDB(t), log, 0)
	at := time.Now().UTC()

	// Given two whiteboard frames
	req.NoError(repository.Append(frame("session:s1", "whiteboard_op", `{"op":"old"}`, at)))
	req.NoError(repository.Append(frame("session:s1", "whiteboard_op", `{"op":"new"}`, at.Add(time.Second))))

	// When only the old one matches
	removed, err := repository.TruncateEvent("session:s1", "whiteboard_op", func(f HistoryFrame) bool {
		return string(f.Payload) == `{"op":"old"}`
	})

	// Then the other one is kept
	req.NoError(err)
	req.Equal(1, removed)
	replayed, err := repository.Replay("session:s1")
	req.NoError(err)
	req.Len(replayed, 1)
	req.JSONEq(`{"op":"new"}`, string(replayed[0].Payload))
}
