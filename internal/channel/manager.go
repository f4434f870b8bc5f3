package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/liaison-ai/liaison/internal/bus"
)

const defaultMaxConcurrentSends = 16

// DeliveryPolicy bounds outbound delivery behaviour.
type DeliveryPolicy struct {
	MaxConcurrentSends int
	RetryMaxAttempts   int
	RetryBaseBackoff   time.Duration
	RetryMaxBackoff    time.Duration
	RateLimitPerSecond int
	DedupWindow        time.Duration
}

// Manager coordinates all channels and routes outbound messages to them.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	policy   DeliveryPolicy
	sendSem  chan struct{}
	mu       sync.RWMutex

	deliveryMu sync.Mutex
	delivered  map[string]time.Time
	nextSend   map[string]time.Time
}

// NewManager creates a channel manager with default concurrency and no
// retry, dedup, or rate limiting.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return NewManagerWithLimit(msgBus, defaultMaxConcurrentSends)
}

// NewManagerWithLimit creates a channel manager with bounded outbound send concurrency.
func NewManagerWithLimit(msgBus *bus.MessageBus, maxConcurrentSends int) *Manager {
	return NewManagerWithPolicy(msgBus, DeliveryPolicy{
		MaxConcurrentSends: maxConcurrentSends,
	})
}

// NewManagerWithPolicy creates a channel manager with full delivery policy control.
func NewManagerWithPolicy(msgBus *bus.MessageBus, policy DeliveryPolicy) *Manager {
	if policy.MaxConcurrentSends <= 0 {
		policy.MaxConcurrentSends = 1
	}
	if policy.RetryMaxAttempts <= 0 {
		policy.RetryMaxAttempts = 1
	}
	return &Manager{
		channels:  make(map[string]Channel),
		bus:       msgBus,
		policy:    policy,
		sendSem:   make(chan struct{}, policy.MaxConcurrentSends),
		delivered: make(map[string]time.Time),
		nextSend:  make(map[string]time.Time),
	}
}

// Register adds a channel
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Names returns registered channel names
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts all channels
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		go func(n string, c Channel) {
			slog.Info("starting channel", "name", n)
			if err := c.Start(ctx); err != nil {
				slog.Error("channel error", "name", n, "error", err)
			}
		}(name, ch)
	}
}

// RouteOutbound sends outbound messages to appropriate channels
func (m *Manager) RouteOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.bus.Outbound():
			if !ok {
				return
			}
			if msg == nil {
				continue
			}

			m.mu.RLock()
			ch, found := m.channels[msg.Channel]
			m.mu.RUnlock()
			if !found {
				slog.Warn("no channel for outbound message", "channel", msg.Channel)
				continue
			}

			select {
			case m.sendSem <- struct{}{}:
				go func(c Channel, outbound *bus.OutboundMessage) {
					defer func() { <-m.sendSem }()
					m.deliver(ctx, c, outbound)
				}(ch, msg)
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Manager) deliver(ctx context.Context, ch Channel, msg *bus.OutboundMessage) {
	dedupKey := msg.Channel + "|" + msg.RequestID
	if msg.RequestID != "" && m.isDuplicate(dedupKey) {
		slog.Debug("skipping duplicate outbound", "request_id", msg.RequestID, "channel", msg.Channel)
		return
	}

	if wait := m.reserveSendSlot(msg.Channel); wait > 0 {
		if !sleepCtx(ctx, wait) {
			return
		}
	}

	var err error
	backoff := m.policy.RetryBaseBackoff
	for attempt := 1; attempt <= m.policy.RetryMaxAttempts; attempt++ {
		err = ch.Send(ctx, msg)
		if err == nil {
			break
		}
		if attempt == m.policy.RetryMaxAttempts {
			break
		}
		slog.Warn("send outbound failed, retrying",
			"request_id", msg.RequestID,
			"channel", msg.Channel,
			"attempt", attempt,
			"error", err,
		)
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff *= 2
		if m.policy.RetryMaxBackoff > 0 && backoff > m.policy.RetryMaxBackoff {
			backoff = m.policy.RetryMaxBackoff
		}
	}

	if err != nil {
		slog.Error("send outbound failed",
			"request_id", msg.RequestID,
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"error", err,
		)
		return
	}
	if msg.RequestID != "" {
		m.markDelivered(dedupKey)
	}
}

// isDuplicate reports whether the same request id was already delivered on
// this channel within the dedup window. Failed sends are never recorded, so
// a re-publish after failure goes through.
func (m *Manager) isDuplicate(key string) bool {
	if m.policy.DedupWindow <= 0 {
		return false
	}

	m.deliveryMu.Lock()
	defer m.deliveryMu.Unlock()

	at, ok := m.delivered[key]
	if !ok {
		return false
	}
	if time.Since(at) > m.policy.DedupWindow {
		delete(m.delivered, key)
		return false
	}
	return true
}

func (m *Manager) markDelivered(key string) {
	if m.policy.DedupWindow <= 0 {
		return
	}

	m.deliveryMu.Lock()
	defer m.deliveryMu.Unlock()
	m.delivered[key] = time.Now()
}

// reserveSendSlot returns how long the caller must wait to respect the
// per-channel rate limit.
func (m *Manager) reserveSendSlot(channel string) time.Duration {
	if m.policy.RateLimitPerSecond <= 0 {
		return 0
	}
	interval := time.Second / time.Duration(m.policy.RateLimitPerSecond)

	m.deliveryMu.Lock()
	defer m.deliveryMu.Unlock()

	now := time.Now()
	next := m.nextSend[channel]
	if next.Before(now) {
		next = now
	}
	m.nextSend[channel] = next.Add(interval)
	return next.Sub(now)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// StopAll stops all channels
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.channels {
		_ = ch.Stop(ctx)
	}
}
