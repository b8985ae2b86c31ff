// Package whiteboard holds the replayable history of drawing actions for one session.
package whiteboard

import (
	"collab-lab/domain"
)

// Log is an append-only sequence of whiteboard operations in apply order.
//
// A ClearOperation becomes the new head and discards every operation with an
// earlier timestamp. Operations stamped at or after the clear survive behind
// it in arrival order, as does anything appended afterwards. The log never
// grows smaller except at a clear boundary.
//
// Log does not de-duplicate: callers must drop operations whose id is already
// present (for example a network redelivery) before calling Append or
// ApplyRemote. Log is not safe for concurrent use; its owner serializes access.
type Log struct {
	ops     []domain.WhiteboardOperation
	ids     map[string]struct{}
	version int
}

func NewLog() *Log {
	return &Log{ids: make(map[string]struct{})}
}

// Append records an operation produced by local user input.
func (l *Log) Append(op domain.WhiteboardOperation) {
	if op.Kind() == domain.OperationClear {
		at := op.Meta().Timestamp
		kept := []domain.WhiteboardOperation{op}
		ids := map[string]struct{}{op.Meta().ID: {}}
		for _, prev := range l.ops {
			if prev.Meta().Timestamp.Before(at) {
				continue
			}
			kept = append(kept, prev)
			ids[prev.Meta().ID] = struct{}{}
		}
		l.ops, l.ids = kept, ids
	} else {
		l.ops = append(l.ops, op)
		l.ids[op.Meta().ID] = struct{}{}
	}
	l.version++
}

// ApplyRemote records an operation received from the channel.
// Arrival order is kept, there is no reordering across senders.
func (l *Log) ApplyRemote(op domain.WhiteboardOperation) {
	l.Append(op)
}

// ReplayAll returns the log in apply order. Each call returns a fresh copy
// so a re-render or a late subscriber can replay it as often as needed.
func (l *Log) ReplayAll() []domain.WhiteboardOperation {
	out := make([]domain.WhiteboardOperation, len(l.ops))
	copy(out, l.ops)
	return out
}

func (l *Log) Contains(id string) bool {
	_, ok := l.ids[id]
	return ok
}

func (l *Log) Len() int { return len(l.ops) }

// Version increases by one on every append, clears included.
func (l *Log) Version() int { return l.version }

// Visible is the render projection of the log: strokes and texts that are
// still on the canvas, in apply order. Erase and clear entries are markers
// and are not returned.
func (l *Log) Visible() []domain.WhiteboardOperation {
	erased := make(map[string]struct{})
	for _, op := range l.ops {
		if erase, ok := op.(domain.EraseOperation); ok {
			for _, id := range erase.TargetIDs {
				erased[id] = struct{}{}
			}
		}
	}
	var out []domain.WhiteboardOperation
	for _, op := range l.ops {
		switch op.Kind() {
		case domain.OperationErase, domain.OperationClear:
			continue
		}
		if _, ok := erased[op.Meta().ID]; ok {
			continue
		}
		out = append(out, op)
	}
	return out
}

// Snapshot is the log content with its version, the shape the backend used
// for whiteboard state.
type Snapshot struct {
	Operations []domain.WhiteboardOperation
	Version    int
}

func (l *Log) Snapshot() Snapshot {
	return Snapshot{Operations: l.ReplayAll(), Version: l.version}
}
