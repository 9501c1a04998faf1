package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// blockingResponder holds each turn until released, so tests control when
// processing completes.
type blockingResponder struct {
	release chan struct{}
	mu      sync.Mutex
	calls   []string
}

func newBlockingResponder() *blockingResponder {
	return &blockingResponder{release: make(chan struct{})}
}

func (r *blockingResponder) Respond(ctx context.Context, text string) Reply {
	select {
	case <-r.release:
	case <-ctx.Done():
		return Reply{Content: "cancelled"}
	}
	r.mu.Lock()
	r.calls = append(r.calls, text)
	r.mu.Unlock()
	return Reply{Content: "answer to: " + text}
}

func (r *blockingResponder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type echoResponder struct{}

func (echoResponder) Respond(_ context.Context, text string) Reply {
	return Reply{Content: "echo: " + text, ToolUsed: "list_services", Steps: []Step{{Thought: "t"}}}
}

func TestSendAppendsPlaceholderAndProcesses(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStore(echoResponder{}, nil)
	defer s.Close()

	snap, err := s.Send("s1", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("snapshot has %d messages, want 2", len(snap.Messages))
	}
	if snap.Messages[0].Role != RoleUser || snap.Messages[0].Content != "hello" {
		t.Errorf("first message = %+v", snap.Messages[0])
	}
	if snap.Messages[1].Role != RoleAgent || snap.Messages[1].Content != thinkingText {
		t.Errorf("placeholder = %+v", snap.Messages[1])
	}
	if !snap.IsProcessing {
		t.Error("IsProcessing false right after send")
	}

	final := waitIdle(t, s, "s1")
	if len(final.Messages) != 2 {
		t.Fatalf("final transcript has %d messages", len(final.Messages))
	}
	agent := final.Messages[1]
	if agent.Content != "echo: hello" {
		t.Errorf("agent content = %q", agent.Content)
	}
	if agent.ToolUsed != "list_services" || len(agent.Steps) != 1 {
		t.Errorf("agent metadata = %+v", agent)
	}
	if agent.ID != snap.Messages[1].ID {
		t.Error("placeholder was replaced by a new message instead of updated in place")
	}
}

func TestTurnsSerializePerSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newBlockingResponder()
	s := NewStore(r, nil)
	defer s.Close()

	if _, err := s.Send("s1", "first"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := s.Send("s1", "second"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Both turns pending; nothing processed yet.
	if got := r.callCount(); got != 0 {
		t.Fatalf("responder ran %d times before release", got)
	}
	snap := s.Messages("s1")
	if len(snap.Messages) != 4 {
		t.Fatalf("transcript has %d messages, want 4", len(snap.Messages))
	}
	if !snap.IsProcessing {
		t.Error("IsProcessing false with two pending turns")
	}

	close(r.release)
	final := waitIdle(t, s, "s1")

	r.mu.Lock()
	order := append([]string{}, r.calls...)
	r.mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("turn order = %v", order)
	}
	if got := final.Messages[1].Content; got != "answer to: first" {
		t.Errorf("first answer = %q", got)
	}
	if got := final.Messages[3].Content; got != "answer to: second" {
		t.Errorf("second answer = %q", got)
	}
}

func TestClearDiscardsQueuedTurns(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newBlockingResponder()
	s := NewStore(r, nil)
	defer s.Close()

	if _, err := s.Send("s1", "doomed"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := s.Send("s1", "also doomed"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	s.Clear("s1")
	close(r.release)

	// At most the already-dequeued turn may reach the responder; the still
	// queued one must be skipped outright.
	time.Sleep(50 * time.Millisecond)
	if got := r.callCount(); got > 1 {
		t.Errorf("responder ran %d times for a cleared session", got)
	}
	snap := s.Messages("s1")
	if len(snap.Messages) != 0 {
		t.Errorf("transcript repopulated after clear: %d messages", len(snap.Messages))
	}
	if snap.IsProcessing {
		t.Error("IsProcessing true after clear")
	}
}

func TestClearDuringProcessingDropsResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	finish := make(chan struct{})
	s := NewStore(responderFunc(func(ctx context.Context, text string) Reply {
		close(started)
		<-finish
		return Reply{Content: "late"}
	}), nil)
	defer s.Close()

	if _, err := s.Send("s1", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-started
	s.Clear("s1")
	close(finish)

	time.Sleep(50 * time.Millisecond)
	if snap := s.Messages("s1"); len(snap.Messages) != 0 {
		t.Errorf("late result repopulated the transcript: %+v", snap.Messages)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStore(echoResponder{}, nil)
	defer s.Close()

	if _, err := s.Send("a", "one"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := s.Send("b", "two"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitIdle(t, s, "a")
	waitIdle(t, s, "b")

	a := s.Messages("a")
	b := s.Messages("b")
	if len(a.Messages) != 2 || len(b.Messages) != 2 {
		t.Fatalf("transcripts = %d, %d messages", len(a.Messages), len(b.Messages))
	}
	if !strings.Contains(a.Messages[1].Content, "one") || !strings.Contains(b.Messages[1].Content, "two") {
		t.Error("sessions mixed their answers")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	s := NewStore(echoResponder{}, nil)
	s.Close()

	if _, err := s.Send("s1", "hello"); err != ErrClosed {
		t.Fatalf("Send after close err = %v, want ErrClosed", err)
	}
	// Close is idempotent.
	s.Close()
}

func TestUnknownSessionSnapshotIsEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStore(echoResponder{}, nil)
	defer s.Close()

	snap := s.Messages("never-seen")
	if snap.SessionID != "never-seen" || len(snap.Messages) != 0 || snap.IsProcessing {
		t.Errorf("snapshot = %+v", snap)
	}
}

type responderFunc func(ctx context.Context, text string) Reply

func (f responderFunc) Respond(ctx context.Context, text string) Reply { return f(ctx, text) }

func waitIdle(t *testing.T, s *Store, sessionID string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := s.Messages(sessionID)
		if !snap.IsProcessing {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never went idle", sessionID)
	return Snapshot{}
}
