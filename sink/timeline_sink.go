package sink

import (
	"collab-lab/domain"
)

// Timeline holds the local chat timeline of one session, in arrival order.
// Messages are kept once per id. Not safe for concurrent use.
type Timeline struct {
	Owner    domain.SessionID
	messages []domain.DecryptedMessage
	ids      map[string]struct{}
}

func NewTimeline(owner domain.SessionID) *Timeline {
	return &Timeline{Owner: owner, ids: make(map[string]struct{})}
}

// Add appends the message unless its id is already known.
func (t *Timeline) Add(msg domain.DecryptedMessage) bool {
	if _, ok := t.ids[msg.ID]; ok {
		return false
	}
	t.ids[msg.ID] = struct{}{}
	t.messages = append(t.messages, msg)
	return true
}

func (t *Timeline) Contains(id string) bool {
	_, ok := t.ids[id]
	return ok
}

func (t *Timeline) Len() int { return len(t.messages) }

// Messages returns a copy of the timeline.
func (t *Timeline) Messages() []domain.DecryptedMessage {
	out := make([]domain.DecryptedMessage, len(t.messages))
	copy(out, t.messages)
	return out
}
