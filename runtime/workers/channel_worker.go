package workers

import (
	"collab-lab/contract"
	"context"
	"log/slog"
)

var _ contract.Worker = (*ChannelWorker)(nil)

// ChannelWorker drains the events of one relay subscription and hands them
// to a single dispatch function, one at a time. It is the only goroutine
// that runs the handlers of a channel.
//
// A panicking handler makes Run panic; under a Supervisor the worker is
// restarted and resumes reading the same stream, the faulty event is lost.
type ChannelWorker struct {
	log      *slog.Logger
	channel  string
	events   <-chan contract.RelayEvent
	dispatch func(contract.RelayEvent)
	onEnd    func()
}

func NewChannelWorker(log *slog.Logger, channel string, events <-chan contract.RelayEvent,
	dispatch func(contract.RelayEvent), onEnd func()) *ChannelWorker {
	return &ChannelWorker{
		log:      log,
		channel:  channel,
		events:   events,
		dispatch: dispatch,
		onEnd:    onEnd,
	}
}

func (w *ChannelWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping channel dispatch", "channel", w.channel)
			return nil
		case event, ok := <-w.events:
			if !ok {
				w.log.Debug("Relay stream ended", "channel", w.channel)
				if w.onEnd != nil {
					w.onEnd()
				}
				return nil
			}
			w.dispatch(event)
		}
	}
}
