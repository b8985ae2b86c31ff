//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"collab-lab/domain"
	"context"
	"encoding/json"
	"reflect"
)

// ISupervisor runs workers until their context ends, restarting them after a crash.
type ISupervisor interface {
	Start(ctx context.Context, worker Worker)
	Wait()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type EventType string

const (
	EventBroadcast     EventType = "broadcast"
	EventPresenceSync  EventType = "presence_sync"
	EventPresenceJoin  EventType = "presence_join"
	EventPresenceLeave EventType = "presence_leave"
	EventStatus        EventType = "status"
	EventTrack         EventType = "track"
	EventUntrack       EventType = "untrack"
)

// Broadcast event names shared by both client implementations.
const (
	EventNewMessage   = "new_message"
	EventWhiteboardOp = "whiteboard_op"
)

// RelayEvent is one frame exchanged with a relay.
//
// A broadcast carries Event and Payload. A presence sync carries the full
// state in Presences; join and leave carry the connection Key and its
// records under Presences[Key]. Status frames carry Status only.
type RelayEvent struct {
	Type      EventType                    `json:"type"`
	Channel   string                       `json:"channel,omitempty"`
	Event     string                       `json:"event,omitempty"`
	Key       string                       `json:"key,omitempty"`
	Payload   json.RawMessage              `json:"payload,omitempty"`
	Presences map[string][]json.RawMessage `json:"presences,omitempty"`
	Status    domain.ChannelStatus         `json:"status,omitempty"`
}

// Relay is the pub/sub service carrying session channels.
// presenceKey identifies the connection in presence state.
type Relay interface {
	Join(ctx context.Context, channel, presenceKey string) (RelaySubscription, error)
}

// RelaySubscription is one joined channel. Events is closed once the
// subscription ends, whether through Close or a lost connection.
// Broadcasts are not echoed back to their sender.
type RelaySubscription interface {
	Events() <-chan RelayEvent
	Broadcast(ctx context.Context, event string, payload []byte) error
	Track(ctx context.Context, record []byte) error
	Untrack(ctx context.Context) error
	Close() error
}
