package memory

import (
	"collab-lab/contract"
	"context"
)

var _ contract.RelaySubscription = (*subscription)(nil)

type subscription struct {
	hub     *Hub
	channel string
	member  *member
}

func (s *subscription) Events() <-chan contract.RelayEvent {
	return s.member.events
}

func (s *subscription) Broadcast(ctx context.Context, event string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.hub.broadcast(s.channel, s.member, event, payload)
}

func (s *subscription) Track(ctx context.Context, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.hub.track(s.channel, s.member, record)
}

func (s *subscription) Untrack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.hub.untrack(s.channel, s.member)
}

// Close leaves the channel. The records of the member, if any, are removed
// from presence and the events stream is closed.
func (s *subscription) Close() error {
	s.hub.leave(s.channel, s.member)
	return nil
}
