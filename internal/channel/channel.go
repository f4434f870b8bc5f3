package channel

import (
	"context"
	"strings"

	"github.com/liaison-ai/liaison/internal/bus"
)

// Channel is one chat surface (Telegram, the HTTP gateway, a test double).
// Start blocks until ctx is cancelled or the transport fails.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg *bus.OutboundMessage) error
	IsAllowed(senderID string) bool
}

// BaseChannel holds the bus handle and sender allowlist shared by every
// channel implementation. An empty allowlist admits everyone.
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowList map[string]bool
}

// IsAllowed reports whether senderID may talk to this channel. Sender ids
// may be compound "numericID|username"; either half can match an entry,
// and entries may carry a leading "@".
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.AllowList) == 0 {
		return true
	}

	idPart, userPart, _ := strings.Cut(senderID, "|")
	for entry := range b.AllowList {
		if matchesAllowEntry(entry, senderID, idPart, userPart) {
			return true
		}
	}
	return false
}

func matchesAllowEntry(entry, senderID, idPart, userPart string) bool {
	normalized := strings.TrimSpace(entry)
	bare := strings.TrimPrefix(normalized, "@")

	for _, candidate := range []string{senderID, idPart, userPart} {
		if candidate == "" {
			continue
		}
		if normalized == candidate || bare == candidate {
			return true
		}
	}
	return false
}

func (b *BaseChannel) PublishInbound(msg *bus.InboundMessage) {
	b.Bus.PublishInbound(msg)
}
