package bus

import "log/slog"

// MessageBus decouples channels from the agent loop with buffered queues.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
}

// NewMessageBus creates a bus with the given per-direction buffer size.
func NewMessageBus(buffer int) *MessageBus {
	if buffer <= 0 {
		buffer = 1
	}
	return &MessageBus{
		inbound:  make(chan *InboundMessage, buffer),
		outbound: make(chan *OutboundMessage, buffer),
	}
}

// PublishInbound queues a message from a channel. Drops when the queue is full
// so a stalled consumer cannot block channel receive loops.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg == nil {
		return
	}
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound queue full, dropping message", "channel", msg.Channel, "chat_id", msg.ChatID, "request_id", msg.RequestID)
	}
}

// PublishOutbound queues a reply for channel delivery.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	if msg == nil {
		return
	}
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("outbound queue full, dropping message", "channel", msg.Channel, "chat_id", msg.ChatID, "request_id", msg.RequestID)
	}
}

// Inbound returns the inbound queue.
func (b *MessageBus) Inbound() <-chan *InboundMessage {
	return b.inbound
}

// Outbound returns the outbound queue.
func (b *MessageBus) Outbound() <-chan *OutboundMessage {
	return b.outbound
}
