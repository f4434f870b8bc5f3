package bus

import (
	"context"
	"testing"
)

func TestInboundMessage_ThreadKey(t *testing.T) {
	msg := &InboundMessage{
		Channel: "telegram",
		ChatID:  "12345",
	}

	expected := "telegram:12345"
	if got := msg.ThreadKey(); got != expected {
		t.Errorf("ThreadKey() = %q, want %q", got, expected)
	}
}

func TestInboundMessage_ThreadKeyWithThread(t *testing.T) {
	msg := &InboundMessage{
		Channel:  "telegram",
		ChatID:   "12345",
		ThreadID: "987",
	}
	if got := msg.ThreadKey(); got != "telegram:12345:987" {
		t.Fatalf("expected thread suffix, got %q", got)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Fatalf("expected req-123, got %q", got)
	}
}

func TestMessageBus_PublishAndReceive(t *testing.T) {
	b := NewMessageBus(2)

	b.PublishInbound(&InboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"})
	select {
	case msg := <-b.Inbound():
		if msg.Content != "hi" {
			t.Fatalf("unexpected inbound content %q", msg.Content)
		}
	default:
		t.Fatal("expected queued inbound message")
	}

	b.PublishOutbound(&OutboundMessage{Channel: "telegram", ChatID: "1", Content: "yo"})
	select {
	case msg := <-b.Outbound():
		if msg.Content != "yo" {
			t.Fatalf("unexpected outbound content %q", msg.Content)
		}
	default:
		t.Fatal("expected queued outbound message")
	}
}

func TestMessageBus_DropsWhenFull(t *testing.T) {
	b := NewMessageBus(1)
	b.PublishInbound(&InboundMessage{Content: "first"})
	b.PublishInbound(&InboundMessage{Content: "second"})

	msg := <-b.Inbound()
	if msg.Content != "first" {
		t.Fatalf("expected first message kept, got %q", msg.Content)
	}
	select {
	case extra := <-b.Inbound():
		t.Fatalf("expected overflow message dropped, got %q", extra.Content)
	default:
	}
}
