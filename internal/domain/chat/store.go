// Package chat implements the conversation store behind the chat
// endpoints: per-session transcripts, the processing placeholder, and a
// per-session worker that serializes turns so two concurrent sends can
// never interleave their tool calls.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// thinkingText is the placeholder content shown while a turn is processing.
const thinkingText = "thinking..."

// turnQueueDepth bounds pending turns per session.
const turnQueueDepth = 32

// ErrSessionBusy is returned when a session's turn queue is full.
var ErrSessionBusy = errors.New("chat session has too many pending turns")

// ErrClosed is returned after the store shuts down.
var ErrClosed = errors.New("chat store is closed")

// Step is one entry of an agent message's reasoning trace.
type Step struct {
	Thought     string
	Action      string
	Observation string
}

// Message is one transcript entry.
type Message struct {
	ID        string
	Role      string
	Content   string
	Timestamp time.Time
	ToolUsed  string
	Blocked   bool
	Steps     []Step
}

// Snapshot is the full transcript state for one session.
type Snapshot struct {
	SessionID    string
	Messages     []Message
	IsProcessing bool
}

// Reply is the responder's finished answer for one turn.
type Reply struct {
	Content  string
	ToolUsed string
	Blocked  bool
	Steps    []Step
}

// Responder produces the agent's answer to one user message.
type Responder interface {
	Respond(ctx context.Context, userText string) Reply
}

type turn struct {
	epoch         uint64
	userText      string
	placeholderID string
}

type session struct {
	id         string
	messages   []Message
	processing int
	epoch      uint64
	queue      chan turn
}

// Store holds every session. Sessions are created implicitly on first send
// and each gets one worker goroutine that drains its turn queue in order.
type Store struct {
	logger    *slog.Logger
	responder Responder
	clock     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// StoreOption configures optional store behavior.
type StoreOption func(*Store)

// WithStoreClock overrides the time source.
func WithStoreClock(clock func() time.Time) StoreOption {
	return func(s *Store) { s.clock = clock }
}

// NewStore creates an empty store backed by the given responder.
func NewStore(responder Responder, logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		logger:    logger.With("component", "chat_store"),
		responder: responder,
		clock:     time.Now,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send appends the user message and a processing placeholder, then
// enqueues the turn for the session worker. The returned snapshot reflects
// the transcript as of the enqueue, with IsProcessing true.
func (s *Store) Send(sessionID, text string) (Snapshot, error) {
	now := s.clock().UTC()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	sess := s.sessionLocked(sessionID)

	placeholderID := uuid.NewString()
	t := turn{epoch: sess.epoch, userText: text, placeholderID: placeholderID}

	select {
	case sess.queue <- t:
	default:
		s.mu.Unlock()
		return Snapshot{}, ErrSessionBusy
	}

	sess.messages = append(sess.messages,
		Message{ID: uuid.NewString(), Role: RoleUser, Content: text, Timestamp: now},
		Message{ID: placeholderID, Role: RoleAgent, Content: thinkingText, Timestamp: now},
	)
	sess.processing++
	snap := sess.snapshot()
	s.mu.Unlock()
	return snap, nil
}

// Messages returns the session transcript. An unknown session yields an
// empty snapshot rather than an error: polling a session that has not sent
// yet is normal.
func (s *Store) Messages(sessionID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Snapshot{SessionID: sessionID, Messages: []Message{}}
	}
	return sess.snapshot()
}

// Clear drops the session transcript. Queued turns are invalidated by the
// epoch bump: the worker discards them without running the responder, so a
// cleared conversation cannot trigger tool calls afterwards.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	sess.epoch++
	sess.messages = nil
	sess.processing = 0
}

// Close stops every session worker and waits for them to exit. In-flight
// responder calls see a cancelled context.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// sessionLocked returns the session, creating it and starting its worker
// on first use. Caller holds s.mu.
func (s *Store) sessionLocked(sessionID string) *session {
	if sess, ok := s.sessions[sessionID]; ok {
		return sess
	}
	sess := &session{id: sessionID, queue: make(chan turn, turnQueueDepth)}
	s.sessions[sessionID] = sess

	s.wg.Add(1)
	go s.worker(sess)
	return sess
}

// worker drains one session's queue in order. One turn at a time per
// session; distinct sessions run concurrently.
func (s *Store) worker(sess *session) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-sess.queue:
			s.process(sess, t)
		}
	}
}

func (s *Store) process(sess *session, t turn) {
	s.mu.Lock()
	stale := t.epoch != sess.epoch
	s.mu.Unlock()
	if stale {
		return
	}

	reply := s.responder.Respond(s.ctx, t.userText)

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.epoch != sess.epoch {
		// Cleared while the responder was running; drop the result.
		return
	}
	for i := range sess.messages {
		if sess.messages[i].ID == t.placeholderID {
			sess.messages[i].Content = reply.Content
			sess.messages[i].Timestamp = s.clock().UTC()
			sess.messages[i].ToolUsed = reply.ToolUsed
			sess.messages[i].Blocked = reply.Blocked
			sess.messages[i].Steps = reply.Steps
			break
		}
	}
	if sess.processing > 0 {
		sess.processing--
	}
}

func (sess *session) snapshot() Snapshot {
	msgs := make([]Message, len(sess.messages))
	copy(msgs, sess.messages)
	return Snapshot{
		SessionID:    sess.id,
		Messages:     msgs,
		IsProcessing: sess.processing > 0,
	}
}
