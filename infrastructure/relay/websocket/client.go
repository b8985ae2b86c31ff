package websocket

import (
	"collab-lab/contract"
	"collab-lab/errors"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"
)

var (
	_ contract.Relay             = (*Relay)(nil)
	_ contract.RelaySubscription = (*subscription)(nil)
)

// Relay dials a websocket relay such as cmd/relay.
type Relay struct {
	log        *slog.Logger
	endpoint   string
	token      string
	dialer     *gorilla.Dialer
	bufferSize int
}

// NewRelay targets endpoint, e.g. "ws://localhost:8080/ws", and
// authenticates every connection with token.
func NewRelay(log *slog.Logger, endpoint, token string) *Relay {
	return &Relay{
		log:        log,
		endpoint:   endpoint,
		token:      token,
		dialer:     gorilla.DefaultDialer,
		bufferSize: 256,
	}
}

// Join opens one connection for the channel and waits for the relay to
// confirm the subscription.
func (r *Relay) Join(ctx context.Context, channel, presenceKey string) (contract.RelaySubscription, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("relay endpoint: %w", err)
	}
	q := u.Query()
	q.Set(queryChannel, channel)
	q.Set(queryKey, presenceKey)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set(headerAuthName, "Bearer "+r.token)
	conn, resp, err := r.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", errors.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeWait)
	}
	_ = conn.SetReadDeadline(deadline)
	var hello contract.RelayEvent
	if err = conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("relay handshake: %w", err)
	}
	if hello.Type != contract.EventStatus || !hello.Status.IsSubscribed() {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: relay answered %q", errors.ErrChannelError, hello.Status)
	}

	s := &subscription{
		log:     r.log.With("channel", channel),
		conn:    conn,
		channel: channel,
		events:  make(chan contract.RelayEvent, r.bufferSize),
		done:    make(chan struct{}),
	}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(gorilla.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	go s.readPump()
	return s, nil
}

type subscription struct {
	log     *slog.Logger
	conn    *gorilla.Conn
	channel string
	events  chan contract.RelayEvent
	done    chan struct{}
	writeMu sync.Mutex
	closing atomic.Bool
	once    sync.Once
}

func (s *subscription) Events() <-chan contract.RelayEvent {
	return s.events
}

func (s *subscription) readPump() {
	defer close(s.events)
	defer func() { _ = s.conn.Close() }()
	for {
		var e contract.RelayEvent
		if err := s.conn.ReadJSON(&e); err != nil {
			if !s.closing.Load() && gorilla.IsUnexpectedCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				s.log.Warn("Relay connection lost", "error", err)
			}
			return
		}
		select {
		case s.events <- e:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Broadcast(ctx context.Context, event string, payload []byte) error {
	return s.write(ctx, contract.RelayEvent{
		Type:    contract.EventBroadcast,
		Channel: s.channel,
		Event:   event,
		Payload: payload,
	})
}

func (s *subscription) Track(ctx context.Context, record []byte) error {
	return s.write(ctx, contract.RelayEvent{Type: contract.EventTrack, Channel: s.channel, Payload: record})
}

func (s *subscription) Untrack(ctx context.Context) error {
	return s.write(ctx, contract.RelayEvent{Type: contract.EventUntrack, Channel: s.channel})
}

// write serializes writers, gorilla allows a single concurrent one.
func (s *subscription) write(ctx context.Context, e contract.RelayEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closing.Load() {
		return errors.ErrChannelClosed
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteJSON(e)
}

// Close says goodbye to the relay and drops the connection. The relay
// removes the presence of this connection on its side.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.closing.Store(true)
		close(s.done)
		_ = s.conn.WriteControl(gorilla.CloseMessage,
			gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
	return nil
}
