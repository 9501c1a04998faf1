package console

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	ward "github.com/ward-ops/ward/sdk"
)

func TestSendMessagePollsUntilIdle(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()
	b.setChat(ward.ChatSnapshot{
		SessionID: "s1",
		Messages: []ward.ChatMessage{
			{ID: "1", Role: "user", Content: "restart web"},
			{ID: "2", Role: "agent", Content: "thinking..."},
		},
		IsProcessing: true,
	})

	p := NewChatSessionPoller(b.client(), "s1", nil, 10*time.Millisecond)
	if err := p.SendMessage(context.Background(), "restart web"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// Immediate fetch captured the placeholder before any poll tick.
	msgs := p.Messages()
	if len(msgs) != 2 || msgs[1].Content != "thinking..." {
		t.Fatalf("messages after send = %+v", msgs)
	}
	if !p.Processing() || !p.Polling() {
		t.Fatal("poller not in awaiting-completion state")
	}

	b.setChat(ward.ChatSnapshot{
		SessionID: "s1",
		Messages: []ward.ChatMessage{
			{ID: "1", Role: "user", Content: "restart web"},
			{ID: "2", Role: "agent", Content: "Restarted web-server.", ToolUsed: "restart_service"},
		},
		IsProcessing: false,
	})

	// The poll stops on its own the moment a tick sees is_processing=false.
	waitFor(t, time.Second, func() bool { return !p.Polling() })
	msgs = p.Messages()
	if msgs[1].Content != "Restarted web-server." {
		t.Errorf("final transcript = %+v", msgs)
	}
	if p.Processing() {
		t.Error("processing flag stuck after completion")
	}
}

func TestSecondSendReplacesPollTask(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()
	b.setChat(ward.ChatSnapshot{SessionID: "s1", IsProcessing: true})

	p := NewChatSessionPoller(b.client(), "s1", nil, 10*time.Millisecond)
	if err := p.SendMessage(context.Background(), "first"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := p.SendMessage(context.Background(), "second"); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if !p.Polling() {
		t.Fatal("no poll task after second send")
	}

	b.setChat(ward.ChatSnapshot{SessionID: "s1", IsProcessing: false})
	waitFor(t, time.Second, func() bool { return !p.Polling() })
}

func TestClearMessagesStopsPollFirst(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()
	b.setChat(ward.ChatSnapshot{
		SessionID:    "s1",
		Messages:     []ward.ChatMessage{{ID: "1", Role: "user", Content: "hi"}},
		IsProcessing: true,
	})

	p := NewChatSessionPoller(b.client(), "s1", nil, 10*time.Millisecond)
	if err := p.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := p.ClearMessages(context.Background()); err != nil {
		t.Fatalf("ClearMessages: %v", err)
	}

	if p.Polling() {
		t.Error("poll task survived clear")
	}
	if len(p.Messages()) != 0 || p.Processing() {
		t.Errorf("local state after clear: messages=%v processing=%v", p.Messages(), p.Processing())
	}

	// A stale tick cannot repopulate: no fetch may land after the clear.
	fetches := atomic.LoadInt64(&b.chatFetches)
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&b.chatFetches) != fetches {
		t.Error("transcript fetched after clear without a new send")
	}
}

func TestRefreshDoesNotStartPolling(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()
	b.setChat(ward.ChatSnapshot{
		SessionID: "s1",
		Messages:  []ward.ChatMessage{{ID: "1", Role: "user", Content: "hi"}},
	})

	p := NewChatSessionPoller(b.client(), "s1", nil, 10*time.Millisecond)
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(p.Messages()) != 1 {
		t.Errorf("messages = %+v", p.Messages())
	}
	if p.Polling() {
		t.Error("one-shot refresh started a poll task")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()
	b.setChat(ward.ChatSnapshot{SessionID: "s1", IsProcessing: true})

	p := NewChatSessionPoller(b.client(), "s1", nil, 10*time.Millisecond)
	p.Stop() // safe before any send

	// Stop is teardown: a later send still delivers, but no poll outlives it.
	if err := p.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitFor(t, time.Second, func() bool { return !p.Polling() })
	p.Stop()
	p.Stop()
	if p.Polling() {
		t.Error("poll task survived Stop")
	}
}

func TestPollSurvivesSendContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()
	b.setChat(ward.ChatSnapshot{SessionID: "s1", IsProcessing: true})

	p := NewChatSessionPoller(b.client(), "s1", nil, 10*time.Millisecond)
	defer p.Stop()

	// A request-scoped context cancelled right after the send must not take
	// the poll down with it: the poll's lifetime is the poller's, and the
	// turn still completes.
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.SendMessage(ctx, "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	cancel()

	fetches := atomic.LoadInt64(&b.chatFetches)
	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&b.chatFetches) > fetches })
	if !p.Polling() {
		t.Fatal("poll died with the send context")
	}

	b.setChat(ward.ChatSnapshot{
		SessionID: "s1",
		Messages:  []ward.ChatMessage{{ID: "1", Role: "user", Content: "hi"}},
	})
	waitFor(t, time.Second, func() bool { return !p.Polling() })
	if len(p.Messages()) != 1 {
		t.Errorf("transcript after completion = %+v", p.Messages())
	}
}

func TestAppStateLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()
	b.setChat(ward.ChatSnapshot{SessionID: "s1", IsProcessing: true})

	app := NewAppState(b.client(), nil, Config{
		InfraRefreshInterval: 20 * time.Millisecond,
		ChatPollInterval:     10 * time.Millisecond,
	})
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if app.Chat("s1") != app.Chat("s1") {
		t.Error("Chat returned distinct pollers for one session")
	}
	if app.Chat("s1") == app.Chat("s2") {
		t.Error("sessions share a poller")
	}
	if err := app.Chat("s1").SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	app.Close()
	app.Close() // idempotent

	if app.Chat("s1").Polling() {
		t.Error("chat poller survived Close")
	}
}

func TestStartReportsPartialFailureButStaysUsable(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()
	b.mu.Lock()
	b.failInfra = true
	b.mu.Unlock()

	app := NewAppState(b.client(), nil, Config{InfraRefreshInterval: time.Hour})
	defer app.Close()

	if err := app.Start(context.Background()); err == nil {
		t.Fatal("expected joined error from failed infrastructure feed")
	}
	if policy, err := app.Status.Policy(); policy == nil || err != nil {
		t.Errorf("policy feed unusable after partial failure: %+v, %v", policy, err)
	}
}
