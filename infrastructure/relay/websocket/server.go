package websocket

import (
	"collab-lab/auth"
	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/infrastructure/storage"
	"collab-lab/wire"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
)

type contextKey string

const claimsKey contextKey = "claims"

// Server exposes a relay over websocket, a memory.Hub for a single process
// or the redis relay when several processes share channels. It only ever
// sees ciphertext: payloads are stored and forwarded untouched.
type Server struct {
	log      *slog.Logger
	hub      contract.Relay
	history  storage.IHistoryRepository
	secret   []byte
	upgrader gorilla.Upgrader
}

// NewServer builds the relay. history may be nil, late joiners then only
// see live traffic.
func NewServer(log *slog.Logger, hub contract.Relay, history storage.IHistoryRepository, secret []byte) *Server {
	return &Server{
		log:     log,
		hub:     hub,
		history: history,
		secret:  secret,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Development relay, browsers from any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.Authenticate)
		r.Get("/ws", s.ServeWs)
	})
	return r
}

// Authenticate reads a bearer token from the Authorization header, or the
// token query parameter for browsers that cannot set headers.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if parts := strings.SplitN(r.Header.Get(headerAuthName), " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = parts[1]
		}
		if token == "" {
			token = r.URL.Query().Get(queryToken)
		}
		if token == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}
		claims, err := auth.ValidateToken(s.secret, token)
		if err != nil {
			s.log.Debug("Token rejected", "error", err, "remote", r.RemoteAddr)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(claimsKey).(*auth.Claims)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	channel := r.URL.Query().Get(queryChannel)
	if channel == "" {
		http.Error(w, "Missing channel", http.StatusBadRequest)
		return
	}
	key := r.URL.Query().Get(queryKey)
	if key == "" {
		key = claims.UserID + "-" + uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		server:  s,
		log:     s.log.With("channel", channel, "key", key, "user", claims.UserID),
		conn:    conn,
		channel: channel,
		ctx:     ctx,
		cancel:  cancel,
	}
	p.sub, err = s.hub.Join(ctx, channel, key)
	if err != nil {
		p.log.Warn("Join failed", "error", err)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(contract.RelayEvent{Type: contract.EventStatus, Channel: channel, Status: domain.StatusChannelError})
		_ = conn.Close()
		cancel()
		return
	}
	p.log.Info("Peer connected")

	go p.writePump()
	go p.readPump()
}

// store keeps a broadcast for late joiners. A whiteboard clear drops the
// whiteboard history it supersedes.
func (s *Server) store(channel string, e contract.RelayEvent) {
	if s.history == nil {
		return
	}
	if e.Event == contract.EventWhiteboardOp {
		if op, err := wire.NormalizeInboundWhiteboardOp(e.Payload); err == nil && op.Kind() == domain.OperationClear {
			if _, err = s.history.TruncateEvent(channel, contract.EventWhiteboardOp, stampedBefore(op.Meta().Timestamp)); err != nil {
				s.log.Warn("History truncation failed", "channel", channel, "error", err)
			}
		}
	}
	err := s.history.Append(storage.HistoryFrame{
		ID:      uuid.New(),
		Channel: channel,
		Event:   e.Event,
		Payload: e.Payload,
		At:      time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("History append failed", "channel", channel, "error", err)
	}
}

// stampedBefore matches the stored operations a clear at the given time discards.
func stampedBefore(at time.Time) func(storage.HistoryFrame) bool {
	return func(f storage.HistoryFrame) bool {
		op, err := wire.NormalizeInboundWhiteboardOp(f.Payload)
		return err != nil || op.Meta().Timestamp.Before(at)
	}
}

func (s *Server) replay(channel string) []contract.RelayEvent {
	if s.history == nil {
		return nil
	}
	frames, err := s.history.Replay(channel)
	if err != nil {
		s.log.Warn("History replay failed", "channel", channel, "error", err)
		return nil
	}
	events := make([]contract.RelayEvent, 0, len(frames))
	for _, f := range frames {
		events = append(events, contract.RelayEvent{
			Type:    contract.EventBroadcast,
			Channel: channel,
			Event:   f.Event,
			Key:     historyKey,
			Payload: f.Payload,
		})
	}
	return events
}

// peer is one websocket connection joined to one channel. writePump is
// the only writer of conn.
type peer struct {
	server  *Server
	log     *slog.Logger
	conn    *gorilla.Conn
	channel string
	sub     contract.RelaySubscription
	ctx     context.Context
	cancel  context.CancelFunc
}

func (p *peer) readPump() {
	defer func() {
		p.cancel()
		_ = p.sub.Close()
		p.log.Info("Peer disconnected")
	}()
	p.conn.SetReadLimit(maxFrameSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var e contract.RelayEvent
		if err := p.conn.ReadJSON(&e); err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				p.log.Debug("Read failed", "error", err)
			}
			return
		}
		p.handle(e)
	}
}

func (p *peer) handle(e contract.RelayEvent) {
	var err error
	switch e.Type {
	case contract.EventBroadcast:
		p.server.store(p.channel, e)
		err = p.sub.Broadcast(p.ctx, e.Event, e.Payload)
	case contract.EventTrack:
		err = p.sub.Track(p.ctx, e.Payload)
	case contract.EventUntrack:
		err = p.sub.Untrack(p.ctx)
	default:
		p.log.Debug("Unexpected frame dropped", "type", e.Type)
	}
	if err != nil {
		p.log.Warn("Frame not relayed", "type", e.Type, "error", err)
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	if err := p.write(contract.RelayEvent{Type: contract.EventStatus, Channel: p.channel, Status: domain.StatusSubscribed}); err != nil {
		return
	}
	for _, e := range p.server.replay(p.channel) {
		if err := p.write(e); err != nil {
			return
		}
	}

	for {
		select {
		case e, ok := <-p.sub.Events():
			if !ok {
				_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = p.conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
				return
			}
			if err := p.write(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(gorilla.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *peer) write(e contract.RelayEvent) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(e)
}
