package services

import (
	"collab-lab/domain"
	"collab-lab/domain/whiteboard"
	"collab-lab/errors"
	"collab-lab/moderation"
	"collab-lab/runtime"
	"collab-lab/sink"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const DefaultMaxContentLength = 4000

var validate = validator.New()

// ISession is what a UI layer needs from one joined study session.
type ISession interface {
	Start(ctx context.Context) error
	SendMessage(ctx context.Context, text string) (domain.ChatMessage, error)
	SendSystemMessage(ctx context.Context, text string) (domain.ChatMessage, error)
	DrawLine(ctx context.Context, points []domain.Point, color string, width float64) (domain.DrawOperation, error)
	AddText(ctx context.Context, at domain.Point, text, color string, fontSize float64) (domain.TextOperation, error)
	Erase(ctx context.Context, targetIDs ...string) (domain.EraseOperation, error)
	Clear(ctx context.Context) (domain.ClearOperation, error)
	TrackPresence(ctx context.Context)
	Messages() []domain.DecryptedMessage
	Whiteboard() []domain.WhiteboardOperation
	VisibleWhiteboard() []domain.WhiteboardOperation
	Participants() []domain.PresenceUser
	Status() domain.ChannelStatus
	Leave(ctx context.Context) error
}

// KeyManager is the part of the key store a session uses.
type KeyManager interface {
	Encrypt(plaintext string, sessionID domain.SessionID) (domain.EncryptedEnvelope, error)
	Decrypt(wire string, sessionID domain.SessionID) (string, error)
	ClearKey(sessionID domain.SessionID)
}

// ContentFilter rewrites decrypted chat text before it is shown.
type ContentFilter interface {
	Sanitize(text string) moderation.Sanitized
}

type Config struct {
	SessionID        domain.SessionID `validate:"required"`
	UserID           string           `validate:"required"`
	UserName         string
	MaxContentLength int
}

type Option func(*Session)

func WithContentFilter(filter ContentFilter) Option {
	return func(s *Session) { s.filter = filter }
}

// WithClock replaces the time source used to stamp messages and operations.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

var _ ISession = (*Session)(nil)

// Session composes the key store, the session channel and the whiteboard
// log for one participant of one session.
//
// Local actions are applied before they are broadcast so the sender never
// waits on the network to see them. Remote data arrives on the channel's
// dispatch goroutine; listeners are called outside the session lock, from
// that goroutine for remote events and from the caller's for local ones.
type Session struct {
	log     *slog.Logger
	cfg     Config
	keys    KeyManager
	channel *runtime.Channel
	filter  ContentFilter
	now     func() time.Time

	mu        sync.Mutex
	timeline  *sink.Timeline
	board     *whiteboard.Log
	seenOps   map[string]struct{}
	roster    *domain.Roster
	status    domain.ChannelStatus
	joinedAt  time.Time
	left      bool
	listeners listeners
}

type listeners struct {
	messages     []func(domain.DecryptedMessage)
	whiteboard   []func(domain.WhiteboardOperation)
	participants []func([]domain.PresenceUser)
	status       []func(domain.ChannelStatus)
}

// NewSession opens the session channel on transport and registers the
// remote handlers. A nil board starts an empty whiteboard log.
func NewSession(log *slog.Logger, cfg Config, keys KeyManager, transport *runtime.Transport,
	board *whiteboard.Log, opts ...Option) (*Session, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = DefaultMaxContentLength
	}
	if board == nil {
		board = whiteboard.NewLog()
	}
	s := &Session{
		log:      log.With("session", cfg.SessionID.String(), "user", cfg.UserID),
		cfg:      cfg,
		keys:     keys,
		channel:  transport.Open(cfg.SessionID),
		now:      time.Now,
		timeline: sink.NewTimeline(cfg.SessionID),
		board:    board,
		seenOps:  make(map[string]struct{}),
		roster:   domain.NewRoster(),
	}
	for _, op := range board.ReplayAll() {
		s.seenOps[op.Meta().ID] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}

	s.channel.OnMessage(s.handleMessage)
	s.channel.OnWhiteboardOp(s.handleOperation)
	s.channel.OnPresenceSync(s.handlePresenceSync)
	s.channel.OnPresenceJoin(s.handlePresenceJoin)
	s.channel.OnPresenceLeave(s.handlePresenceLeave)
	return s, nil
}

func (s *Session) OnMessage(f func(domain.DecryptedMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners.messages = append(s.listeners.messages, f)
}

func (s *Session) OnWhiteboardChange(f func(domain.WhiteboardOperation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners.whiteboard = append(s.listeners.whiteboard, f)
}

func (s *Session) OnParticipantsChange(f func([]domain.PresenceUser)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners.participants = append(s.listeners.participants, f)
}

func (s *Session) OnStatus(f func(domain.ChannelStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners.status = append(s.listeners.status, f)
}

// Start subscribes the session channel. Status changes are forwarded to
// status listeners until the channel closes. A refused subscription is
// returned and also reported as CHANNEL_ERROR.
func (s *Session) Start(ctx context.Context) error {
	if s.hasLeft() {
		return errors.ErrSessionLeft
	}
	stream, err := s.channel.Subscribe(ctx)
	if stream != nil {
		go s.watchStatus(stream)
	}
	return err
}

func (s *Session) watchStatus(stream <-chan domain.ChannelStatus) {
	for status := range stream {
		s.mu.Lock()
		s.status = status
		fns := append(([]func(domain.ChannelStatus))(nil), s.listeners.status...)
		s.mu.Unlock()

		if status != domain.StatusSubscribed {
			s.log.Warn("Session channel is not subscribed", "status", status)
		}
		for _, f := range fns {
			f(status)
		}
	}
}

// SendMessage encrypts text with the session key and broadcasts it.
// It fails with errors.ErrKeyNotFound while no key is installed.
func (s *Session) SendMessage(ctx context.Context, text string) (domain.ChatMessage, error) {
	return s.send(ctx, text, domain.MessageTypeText)
}

// SendSystemMessage sends an informational line such as "Alice shared the board".
func (s *Session) SendSystemMessage(ctx context.Context, text string) (domain.ChatMessage, error) {
	return s.send(ctx, text, domain.MessageTypeSystem)
}

func (s *Session) send(ctx context.Context, text string, messageType domain.MessageType) (domain.ChatMessage, error) {
	if s.hasLeft() {
		return domain.ChatMessage{}, errors.ErrSessionLeft
	}
	if strings.TrimSpace(text) == "" {
		return domain.ChatMessage{}, errors.ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(text); n > s.cfg.MaxContentLength {
		return domain.ChatMessage{}, fmt.Errorf("%w: %d > %d", errors.ErrMessageTooLong, n, s.cfg.MaxContentLength)
	}

	envelope, err := s.keys.Encrypt(text, s.cfg.SessionID)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	msg := domain.ChatMessage{
		ID:               uuid.NewString(),
		SessionID:        s.cfg.SessionID,
		SenderID:         s.cfg.UserID,
		SenderName:       s.cfg.UserName,
		EncryptedContent: envelope.String(),
		MessageType:      messageType,
		Timestamp:        s.stamp(),
	}
	s.record(domain.DecryptedMessage{ChatMessage: msg, Plaintext: text})
	s.channel.BroadcastMessage(ctx, msg)
	return msg, nil
}

func (s *Session) DrawLine(ctx context.Context, points []domain.Point, color string, width float64) (domain.DrawOperation, error) {
	op := domain.DrawOperation{OperationMeta: s.meta(), Points: points, Color: color, Width: width}
	return op, s.applyLocal(ctx, op)
}

func (s *Session) AddText(ctx context.Context, at domain.Point, text, color string, fontSize float64) (domain.TextOperation, error) {
	op := domain.TextOperation{OperationMeta: s.meta(), Position: at, Text: text, Color: color, FontSize: fontSize}
	return op, s.applyLocal(ctx, op)
}

func (s *Session) Erase(ctx context.Context, targetIDs ...string) (domain.EraseOperation, error) {
	op := domain.EraseOperation{OperationMeta: s.meta(), TargetIDs: targetIDs}
	return op, s.applyLocal(ctx, op)
}

func (s *Session) Clear(ctx context.Context) (domain.ClearOperation, error) {
	op := domain.ClearOperation{OperationMeta: s.meta()}
	return op, s.applyLocal(ctx, op)
}

func (s *Session) applyLocal(ctx context.Context, op domain.WhiteboardOperation) error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return errors.ErrSessionLeft
	}
	s.seenOps[op.Meta().ID] = struct{}{}
	s.board.Append(op)
	fns := append(([]func(domain.WhiteboardOperation))(nil), s.listeners.whiteboard...)
	s.mu.Unlock()

	for _, f := range fns {
		f(op)
	}
	s.channel.BroadcastWhiteboardOp(ctx, op)
	return nil
}

// TrackPresence announces this participant on the channel. The join time is
// fixed by the first call.
func (s *Session) TrackPresence(ctx context.Context) {
	s.mu.Lock()
	if s.joinedAt.IsZero() {
		s.joinedAt = s.stamp()
	}
	user := domain.PresenceUser{ID: s.cfg.UserID, Name: s.cfg.UserName, JoinedAt: s.joinedAt}
	s.mu.Unlock()
	s.channel.TrackPresence(ctx, user)
}

func (s *Session) Messages() []domain.DecryptedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Messages()
}

// Whiteboard is the full operation log in apply order.
func (s *Session) Whiteboard() []domain.WhiteboardOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.ReplayAll()
}

// VisibleWhiteboard is what a canvas should draw: erased items are left out.
func (s *Session) VisibleWhiteboard() []domain.WhiteboardOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Visible()
}

func (s *Session) WhiteboardVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Version()
}

func (s *Session) Participants() []domain.PresenceUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.Participants()
}

func (s *Session) SessionID() domain.SessionID { return s.cfg.SessionID }

func (s *Session) Status() domain.ChannelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Leave untracks presence, closes the channel then clears the session key,
// in that order, so a decrypt still running in a handler never sees a
// half-cleared state. Leaving twice is a no-op.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return nil
	}
	s.left = true
	s.mu.Unlock()

	s.channel.UntrackPresence(ctx)
	err := s.channel.Close()
	s.keys.ClearKey(s.cfg.SessionID)
	s.log.Info("Session left")
	return err
}

func (s *Session) handleMessage(msg domain.ChatMessage) {
	s.mu.Lock()
	known := s.timeline.Contains(msg.ID)
	s.mu.Unlock()
	if known {
		s.log.Debug("Duplicate message dropped", "id", msg.ID)
		return
	}

	decrypted := domain.DecryptedMessage{ChatMessage: msg}
	plaintext, err := s.keys.Decrypt(msg.EncryptedContent, s.cfg.SessionID)
	switch {
	case err != nil:
		s.log.Warn("Undecryptable message", "id", msg.ID, "sender", msg.SenderID, "error", err)
		decrypted.Undecryptable = true
	case s.filter != nil:
		sanitized := s.filter.Sanitize(plaintext)
		if len(sanitized.Words) > 0 {
			s.log.Info("Message censored", "id", msg.ID, "words", len(sanitized.Words), "lang", sanitized.Language)
		}
		decrypted.Plaintext = sanitized.Text
	default:
		decrypted.Plaintext = plaintext
	}
	s.record(decrypted)
}

func (s *Session) record(msg domain.DecryptedMessage) {
	s.mu.Lock()
	if !s.timeline.Add(msg) {
		s.mu.Unlock()
		return
	}
	fns := append(([]func(domain.DecryptedMessage))(nil), s.listeners.messages...)
	s.mu.Unlock()

	for _, f := range fns {
		f(msg)
	}
}

func (s *Session) handleOperation(op domain.WhiteboardOperation) {
	s.mu.Lock()
	if _, ok := s.seenOps[op.Meta().ID]; ok {
		s.mu.Unlock()
		s.log.Debug("Duplicate whiteboard operation dropped", "id", op.Meta().ID)
		return
	}
	s.seenOps[op.Meta().ID] = struct{}{}
	s.board.ApplyRemote(op)
	fns := append(([]func(domain.WhiteboardOperation))(nil), s.listeners.whiteboard...)
	s.mu.Unlock()

	for _, f := range fns {
		f(op)
	}
}

func (s *Session) handlePresenceSync(state domain.PresenceState) {
	s.updateRoster(func(r *domain.Roster) { r.Sync(state) })
}

func (s *Session) handlePresenceJoin(key string, users []domain.PresenceUser) {
	s.updateRoster(func(r *domain.Roster) { r.Join(key, users) })
}

func (s *Session) handlePresenceLeave(key string, users []domain.PresenceUser) {
	s.updateRoster(func(r *domain.Roster) { r.Leave(key, users) })
}

func (s *Session) updateRoster(apply func(*domain.Roster)) {
	s.mu.Lock()
	apply(s.roster)
	participants := s.roster.Participants()
	fns := append(([]func([]domain.PresenceUser))(nil), s.listeners.participants...)
	s.mu.Unlock()

	for _, f := range fns {
		f(participants)
	}
}

func (s *Session) meta() domain.OperationMeta {
	return domain.OperationMeta{ID: uuid.NewString(), UserID: s.cfg.UserID, Timestamp: s.stamp()}
}

// stamp is the current time at wire precision.
func (s *Session) stamp() time.Time {
	return time.UnixMilli(s.now().UnixMilli()).UTC()
}

func (s *Session) hasLeft() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left
}
