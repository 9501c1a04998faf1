package console

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ward "github.com/ward-ops/ward/sdk"
)

// Config carries the tunable intervals for one console session.
type Config struct {
	// InfraRefreshInterval is the recurring infrastructure refresh period.
	// Zero means DefaultInfraRefreshInterval.
	InfraRefreshInterval time.Duration

	// ChatPollInterval is the transcript poll period while a turn is
	// processing. Zero means DefaultChatPollInterval.
	ChatPollInterval time.Duration
}

// AppState is the explicit application-state object for one console
// session: constructed on session start, torn down with Close on session
// end, and passed by reference to whatever needs it. It is never a
// process-wide singleton — each active session gets its own instance.
type AppState struct {
	Client   *ward.Client
	Status   *StatusSynchronizer
	Mode     *PolicyModeController
	Grant    *GrantLifecycleTracker
	Incident *IncidentScopeTracker
	Tools    *ToolInvoker

	logger       *slog.Logger
	chatInterval time.Duration

	mu     sync.Mutex
	chats  map[string]*ChatSessionPoller
	closed bool
}

// NewAppState wires the session's components around one backend client.
func NewAppState(client *ward.Client, logger *slog.Logger, cfg Config) *AppState {
	if logger == nil {
		logger = slog.Default()
	}

	statusSync := NewStatusSynchronizer(client, logger, cfg.InfraRefreshInterval)
	return &AppState{
		Client:       client,
		Status:       statusSync,
		Mode:         NewPolicyModeController(client, statusSync, logger),
		Grant:        NewGrantLifecycleTracker(client, statusSync, logger),
		Incident:     NewIncidentScopeTracker(client, statusSync, logger),
		Tools:        NewToolInvoker(client, statusSync, logger),
		logger:       logger,
		chatInterval: cfg.ChatPollInterval,
		chats:        make(map[string]*ChatSessionPoller),
	}
}

// Start performs the initial concurrent feed load and begins the recurring
// infrastructure refresh. The returned error joins whichever feeds failed;
// the session stays usable with partial data.
func (a *AppState) Start(ctx context.Context) error {
	err := a.Status.Initialize(ctx)
	a.Status.StartAutoRefresh(ctx)
	return err
}

// Chat returns the poller for a session transcript, creating it on first
// use. Sessions are created implicitly on first send and live until the
// AppState closes.
func (a *AppState) Chat(sessionID string) *ChatSessionPoller {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.chats[sessionID]; ok {
		return p
	}
	p := NewChatSessionPoller(a.Client, sessionID, a.logger, a.chatInterval)
	a.chats[sessionID] = p
	return p
}

// Close stops every timer owned by the session: the status refresh task
// and all chat pollers. Idempotent. After Close no background request can
// touch the state.
func (a *AppState) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	pollers := make([]*ChatSessionPoller, 0, len(a.chats))
	for _, p := range a.chats {
		pollers = append(pollers, p)
	}
	a.mu.Unlock()

	a.Status.Stop()
	for _, p := range pollers {
		p.Stop()
	}
}
