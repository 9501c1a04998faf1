package console

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ward "github.com/ward-ops/ward/sdk"
)

// DefaultChatPollInterval is the fixed period between transcript polls
// while a turn is processing.
const DefaultChatPollInterval = 1 * time.Second

// ChatSessionPoller turns a fire-and-forget chat send into a bounded
// polling loop over one session's transcript.
//
// States: idle (no task), sending (request dispatched, immediate fetch in
// flight), awaiting completion (poll task running). The poll task stops
// exactly once, the moment a tick observes is_processing=false. The server
// is the sole writer: every tick replaces the whole local message list and
// processing flag — no merging, no deduplication, no reordering.
type ChatSessionPoller struct {
	client    *ward.Client
	logger    *slog.Logger
	sessionID string
	interval  time.Duration

	// lifetime scopes the poll task to the poller itself, not to whatever
	// request context triggered the send. A caller cancelling its context
	// after SendMessage returns must not kill the poll mid-turn.
	lifetime context.Context
	cancel   context.CancelFunc

	// opMu serializes SendMessage, ClearMessages, and Stop so that two
	// rapid sends can never leave two poll tasks alive.
	opMu sync.Mutex

	mu         sync.Mutex
	messages   []ward.ChatMessage
	processing bool
	task       *Task
	onUpdate   func()
}

// NewChatSessionPoller creates a poller for one session. Interval zero
// means DefaultChatPollInterval.
func NewChatSessionPoller(client *ward.Client, sessionID string, logger *slog.Logger, interval time.Duration) *ChatSessionPoller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultChatPollInterval
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &ChatSessionPoller{
		client:    client,
		logger:    logger.With("component", "chat_poller", "session_id", sessionID),
		sessionID: sessionID,
		interval:  interval,
		lifetime:  lifetime,
		cancel:    cancel,
	}
}

// OnUpdate registers a callback invoked after every transcript replacement.
func (p *ChatSessionPoller) OnUpdate(fn func()) {
	p.mu.Lock()
	p.onUpdate = fn
	p.mu.Unlock()
}

// SendMessage dispatches a chat turn, performs exactly one immediate
// transcript fetch (capturing the just-sent user message and any
// server-side processing placeholder), then starts the recurring poll.
// If a poll task from an earlier send is still running it is stopped
// first — at most one poll task exists per session at any instant.
func (p *ChatSessionPoller) SendMessage(ctx context.Context, text string) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.stopTask()

	if _, err := p.client.SendChat(ctx, p.sessionID, text); err != nil {
		return err
	}

	// The immediate fetch is best-effort: on failure the first poll tick
	// picks the transcript up anyway.
	if snap, err := p.client.ChatMessages(ctx, p.sessionID); err != nil {
		p.logger.Warn("immediate transcript fetch failed", "error", err)
	} else {
		p.replace(snap)
	}

	p.startPoll()
	return nil
}

// ClearMessages stops any active poll before issuing the clear, so a stale
// in-flight tick cannot repopulate the just-cleared transcript, then
// resets local state.
func (p *ChatSessionPoller) ClearMessages(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.stopTask()

	if err := p.client.ClearChat(ctx, p.sessionID); err != nil {
		return err
	}

	p.mu.Lock()
	p.messages = nil
	p.processing = false
	notify := p.onUpdate
	p.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// Refresh performs a single on-demand transcript fetch without touching
// the poll task.
func (p *ChatSessionPoller) Refresh(ctx context.Context) error {
	snap, err := p.client.ChatMessages(ctx, p.sessionID)
	if err != nil {
		return err
	}
	p.replace(snap)
	return nil
}

// Stop cancels the poller's lifetime context and any active poll task.
// Called on session teardown; no poll can start afterwards.
func (p *ChatSessionPoller) Stop() {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	p.cancel()
	p.stopTask()
}

// Messages returns a copy of the current transcript.
func (p *ChatSessionPoller) Messages() []ward.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ward.ChatMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Processing reports whether the server was still working on a turn as of
// the last replacement.
func (p *ChatSessionPoller) Processing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processing
}

// Polling reports whether a poll task is currently live.
func (p *ChatSessionPoller) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.task != nil && !p.task.Finished()
}

// startPoll begins the recurring transcript poll on the poller's own
// lifetime context. Caller holds opMu.
func (p *ChatSessionPoller) startPoll() {
	task := StartTicker(p.lifetime, p.interval, func(ctx context.Context) bool {
		snap, err := p.client.ChatMessages(ctx, p.sessionID)
		if err != nil {
			// Logged and retried on the next tick; never fatal.
			p.logger.Warn("transcript poll failed", "error", err)
			return true
		}
		p.replace(snap)
		return snap.IsProcessing
	})

	p.mu.Lock()
	p.task = task
	p.mu.Unlock()
}

// stopTask detaches and stops the current poll task, waiting for its tick
// goroutine to exit. Caller holds opMu.
func (p *ChatSessionPoller) stopTask() {
	p.mu.Lock()
	task := p.task
	p.task = nil
	p.mu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// replace swaps in the server's transcript wholesale.
func (p *ChatSessionPoller) replace(snap *ward.ChatSnapshot) {
	p.mu.Lock()
	p.messages = snap.Messages
	p.processing = snap.IsProcessing
	notify := p.onUpdate
	p.mu.Unlock()

	if notify != nil {
		notify()
	}
}
