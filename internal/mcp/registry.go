package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/liaison-ai/liaison/internal/config"
)

const (
	reconnectMaxAttempts = 3
	reconnectBaseBackoff = 250 * time.Millisecond
	healthCheckInterval  = 30 * time.Second
	sessionQueueDepth    = 16
)

type callRequest struct {
	ctx      context.Context
	tool     string
	argsJSON string
	reply    chan callReply
}

type callReply struct {
	result string
	err    error
}

// session owns the adapter for one server. All calls flow through the worker
// goroutine reading from calls, which serializes them in submission order.
type session struct {
	name string
	cfg  config.MCPServerConfig

	mu      sync.RWMutex
	state   SessionState
	client  Client
	caps    Capabilities
	message string

	calls chan *callRequest
}

func (s *session) status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ServerStatus{
		Name:      s.name,
		Transport: s.cfg.Transport,
		State:     s.state,
		ToolCount: len(s.caps.Tools),
		Message:   s.message,
	}
}

func (s *session) snapshotState() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *session) capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Capabilities{
		Tools:     append([]ToolDefinition(nil), s.caps.Tools...),
		Resources: append([]ResourceDefinition(nil), s.caps.Resources...),
		Prompts:   append([]PromptDefinition(nil), s.caps.Prompts...),
	}
	return out
}

func (s *session) currentClient() Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *session) markConnecting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateConnecting
}

func (s *session) markReady(client Client, caps Capabilities, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.client = client
	s.caps = caps
	s.state = StateReady
	s.message = strings.TrimSpace(message)
}

func (s *session) markDegraded(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	if s.client != nil {
		_ = s.client.Close()
	}
	s.client = nil
	s.state = StateDegraded
	s.message = strings.TrimSpace(msg)
}

func (s *session) markClosed(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		_ = s.client.Close()
	}
	s.client = nil
	s.caps = Capabilities{}
	s.state = StateClosed
	s.message = strings.TrimSpace(msg)
}

// Registry owns the named collection of server sessions and provides the
// uniform invoke/list surface. Calls to one server are strictly serialized;
// calls to different servers run in parallel.
type Registry struct {
	connectors Connectors

	mu       sync.RWMutex
	sessions map[string]*session

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewRegistry constructs an empty registry using the given connectors.
func NewRegistry(connectors Connectors) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		connectors: connectors,
		sessions:   make(map[string]*session),
		runCtx:     ctx,
		runCancel:  cancel,
	}
}

// DefaultConnectors returns production connectors for stdio and HTTP/SSE transports.
func DefaultConnectors() Connectors {
	return Connectors{
		Stdio:   newStdioConnector(),
		HTTPSSE: newHTTPSSEConnector(),
	}
}

// NewRegistryFromConfig registers every enabled server from config. Servers
// that fail to connect are tracked as degraded; they never fail the registry.
func NewRegistryFromConfig(ctx context.Context, servers map[string]config.MCPServerConfig, connectors Connectors) (*Registry, error) {
	reg := NewRegistry(connectors)

	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := servers[name]
		if !config.IsMCPServerEnabled(cfg) {
			continue
		}
		select {
		case <-ctx.Done():
			return reg, ctx.Err()
		default:
		}
		if err := reg.Register(ctx, name, cfg); err != nil {
			slog.Warn("mcp server degraded at startup", "server", name, "error", err)
		}
	}
	return reg, nil
}

// Register adds a session for one server and performs the initial handshake.
// A handshake failure leaves the session registered but degraded, so health
// checks keep retrying it. Server names must be unique.
func (r *Registry) Register(ctx context.Context, name string, cfg config.MCPServerConfig) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	cfg.Transport = normalizeTransport(cfg.Transport)

	sess := &session{
		name:  name,
		cfg:   cfg,
		state: StateDisconnected,
		calls: make(chan *callRequest, sessionQueueDepth),
	}

	r.mu.Lock()
	if _, dup := r.sessions[name]; dup {
		r.mu.Unlock()
		return fmt.Errorf("mcp server already registered: %s", name)
	}
	r.sessions[name] = sess
	r.mu.Unlock()

	r.wg.Add(1)
	go r.sessionWorker(sess)

	sess.markConnecting()
	client, caps, err := r.connectAndDiscover(ctx, sess.name, sess.cfg)
	if err != nil {
		sess.markDegraded(fmt.Sprintf("connect failed: %v", err))
		return err
	}
	sess.markReady(client, caps, "")
	return nil
}

// StartHealthChecks runs periodic degraded-session recovery until ctx ends.
func (r *Registry) StartHealthChecks(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.runCtx.Done():
				return
			case <-ticker.C:
				r.recoverDegraded(ctx)
			}
		}
	}()
}

func (r *Registry) recoverDegraded(ctx context.Context) {
	for _, sess := range r.allSessions() {
		if sess.snapshotState() != StateDegraded {
			continue
		}
		if err := r.reconnectSession(ctx, sess, "health check"); err != nil {
			slog.Warn("mcp health check reconnect failed", "server", sess.name, "error", err)
			continue
		}
		slog.Info("mcp server recovered", "server", sess.name)
	}
}

// Servers returns per-server status sorted by name.
func (r *Registry) Servers() []ServerStatus {
	sessions := r.allSessions()
	out := make([]ServerStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.status())
	}
	return out
}

// ServerNames returns the registered names sorted.
func (r *Registry) ServerNames() []string {
	sessions := r.allSessions()
	names := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		names = append(names, sess.name)
	}
	return names
}

// HasReadyServer reports whether at least one session can serve calls.
func (r *Registry) HasReadyServer() bool {
	for _, sess := range r.allSessions() {
		state := sess.snapshotState()
		if state == StateReady || state == StateDegraded {
			return true
		}
	}
	return false
}

// Tools returns the cached tool list for one server.
func (r *Registry) Tools(server string) ([]ToolDefinition, error) {
	sess, err := r.lookup(server)
	if err != nil {
		return nil, err
	}
	return sess.capabilities().Tools, nil
}

// AllTools returns the cached tools of every ready server, keyed by server
// name. Distinct servers may advertise the same tool name; the (server, tool)
// pair stays unambiguous.
func (r *Registry) AllTools() map[string][]ToolDefinition {
	out := make(map[string][]ToolDefinition)
	for _, sess := range r.allSessions() {
		if sess.snapshotState() != StateReady {
			continue
		}
		tools := sess.capabilities().Tools
		if len(tools) == 0 {
			continue
		}
		out[sess.name] = tools
	}
	return out
}

// Resources returns the cached resource list for one server.
func (r *Registry) Resources(server string) ([]ResourceDefinition, error) {
	sess, err := r.lookup(server)
	if err != nil {
		return nil, err
	}
	return sess.capabilities().Resources, nil
}

// Prompts returns the cached prompt list for one server.
func (r *Registry) Prompts(server string) ([]PromptDefinition, error) {
	sess, err := r.lookup(server)
	if err != nil {
		return nil, err
	}
	return sess.capabilities().Prompts, nil
}

// Invoke routes one tool call to the named server. The call is queued behind
// any in-flight call on the same session and executes in submission order.
// ctx carries the per-call deadline; expiry yields a TimeoutError while the
// in-flight request itself completes or times out on its own.
func (r *Registry) Invoke(ctx context.Context, server, tool, argsJSON string) (string, error) {
	sess, err := r.lookup(server)
	if err != nil {
		return "", err
	}
	if sess.snapshotState() == StateClosed {
		return "", fmt.Errorf("%w: %s", ErrSessionClosed, server)
	}

	req := &callRequest{
		ctx:      ctx,
		tool:     strings.TrimSpace(tool),
		argsJSON: argsJSON,
		reply:    make(chan callReply, 1),
	}

	select {
	case sess.calls <- req:
	case <-ctx.Done():
		return "", r.mapCtxErr(ctx.Err(), server, tool)
	case <-r.runCtx.Done():
		return "", &ServiceError{Msg: "registry closed"}
	}

	select {
	case reply := <-req.reply:
		if reply.err != nil {
			return "", r.mapCtxErr(reply.err, server, tool)
		}
		return reply.result, nil
	case <-ctx.Done():
		// The worker still completes the request and writes into the
		// buffered reply slot; the result is simply discarded.
		return "", r.mapCtxErr(ctx.Err(), server, tool)
	}
}

func (r *Registry) mapCtxErr(err error, server, tool string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Server: server, Tool: tool, Err: err}
	}
	return err
}

// Reconnect forces a dial attempt for one server, reopening a closed session.
func (r *Registry) Reconnect(ctx context.Context, server string) error {
	sess, err := r.lookup(server)
	if err != nil {
		return err
	}
	return r.reconnectSession(ctx, sess, "operator reconnect")
}

// Close shuts down every session and stops background work.
func (r *Registry) Close() {
	r.runCancel()
	for _, sess := range r.allSessions() {
		sess.markClosed("registry closed")
	}
	r.wg.Wait()
}

func (r *Registry) sessionWorker(sess *session) {
	defer r.wg.Done()

	for {
		select {
		case <-r.runCtx.Done():
			return
		case req := <-sess.calls:
			req.reply <- r.executeCall(sess, req)
		}
	}
}

func (r *Registry) executeCall(sess *session, req *callRequest) callReply {
	if err := req.ctx.Err(); err != nil {
		return callReply{err: err}
	}

	client, err := r.ensureReady(req.ctx, sess)
	if err != nil {
		return callReply{err: err}
	}

	result, callErr := client.CallTool(req.ctx, req.tool, req.argsJSON)
	if callErr == nil {
		return callReply{result: normalizeToolResult(result)}
	}

	// RemoteError is an application failure, deadline expiry belongs to the
	// caller; neither says anything about channel health.
	if IsRemoteError(callErr) || errors.Is(callErr, context.DeadlineExceeded) || errors.Is(callErr, context.Canceled) {
		return callReply{err: callErr}
	}

	if err := r.reconnectSession(req.ctx, sess, fmt.Sprintf("tool call failed: %v", callErr)); err != nil {
		return callReply{err: fmt.Errorf("mcp server %s call failed: %v; reconnect failed: %w", sess.name, callErr, err)}
	}

	client = sess.currentClient()
	if client == nil {
		return callReply{err: &ConnectError{Server: sess.name, Err: fmt.Errorf("no client after reconnect")}}
	}
	result, callErr = client.CallTool(req.ctx, req.tool, req.argsJSON)
	if callErr != nil {
		if !IsRemoteError(callErr) {
			sess.markDegraded(fmt.Sprintf("tool call failed after reconnect: %v", callErr))
		}
		return callReply{err: fmt.Errorf("mcp server %s call failed after reconnect: %w", sess.name, callErr)}
	}
	return callReply{result: normalizeToolResult(result)}
}

func (r *Registry) ensureReady(ctx context.Context, sess *session) (Client, error) {
	sess.mu.RLock()
	state := sess.state
	client := sess.client
	reason := sess.message
	sess.mu.RUnlock()

	switch state {
	case StateReady:
		if client != nil {
			return client, nil
		}
	case StateClosed:
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, sess.name)
	}

	if strings.TrimSpace(reason) == "" {
		reason = "server not connected"
	}
	if err := r.reconnectSession(ctx, sess, reason); err != nil {
		return nil, err
	}

	client = sess.currentClient()
	if client == nil {
		return nil, &ConnectError{Server: sess.name, Err: fmt.Errorf("no client after reconnect")}
	}
	return client, nil
}

// reconnectSession runs bounded dial attempts with exponential backoff.
// Exhausting the budget transitions the session to closed; only an operator
// reconnect reopens it.
func (r *Registry) reconnectSession(ctx context.Context, sess *session, reason string) error {
	sess.markConnecting()

	var lastErr error
	for attempt := 1; attempt <= reconnectMaxAttempts; attempt++ {
		if attempt > 1 {
			if err := waitReconnectBackoff(ctx, attempt-1); err != nil {
				sess.markDegraded(fmt.Sprintf("%s; reconnect interrupted: %v", strings.TrimSpace(reason), err))
				return err
			}
		}

		client, caps, err := r.connectAndDiscover(ctx, sess.name, sess.cfg)
		if err == nil {
			recoveredMsg := ""
			if attempt > 1 {
				recoveredMsg = fmt.Sprintf("recovered after %d reconnect attempt(s)", attempt)
			}
			sess.markReady(client, caps, recoveredMsg)
			return nil
		}
		lastErr = err
	}

	closedMsg := fmt.Sprintf("%s; reconnect failed after %d attempts: %v", strings.TrimSpace(reason), reconnectMaxAttempts, lastErr)
	sess.markClosed(closedMsg)
	return fmt.Errorf("reconnect failed after %d attempts: %w", reconnectMaxAttempts, lastErr)
}

func waitReconnectBackoff(ctx context.Context, retryIndex int) error {
	if retryIndex <= 0 {
		return nil
	}

	delay := reconnectBaseBackoff << (retryIndex - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Registry) connectAndDiscover(ctx context.Context, serverName string, cfg config.MCPServerConfig) (Client, Capabilities, error) {
	connector := r.connectorFor(cfg.Transport)
	if connector == nil {
		return nil, Capabilities{}, fmt.Errorf("no connector configured for transport %q", cfg.Transport)
	}

	client, err := connector.Connect(ctx, serverName, cfg)
	if err != nil {
		return nil, Capabilities{}, &ConnectError{Server: serverName, Err: err}
	}

	caps := Capabilities{}
	caps.Tools, err = client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return nil, Capabilities{}, fmt.Errorf("list tools failed: %w", err)
	}
	if caps.Resources, err = client.ListResources(ctx); err != nil {
		slog.Debug("resources discovery failed", "server", serverName, "error", err)
		caps.Resources = nil
	}
	if caps.Prompts, err = client.ListPrompts(ctx); err != nil {
		slog.Debug("prompts discovery failed", "server", serverName, "error", err)
		caps.Prompts = nil
	}
	return client, caps, nil
}

func (r *Registry) connectorFor(transport string) Connector {
	switch normalizeTransport(transport) {
	case TransportStdio:
		return r.connectors.Stdio
	case TransportHTTPSSE:
		return r.connectors.HTTPSSE
	default:
		return nil
	}
}

func normalizeTransport(transport string) string {
	t := strings.ToLower(strings.TrimSpace(transport))
	if t == "" {
		return TransportStdio
	}
	return t
}

func (r *Registry) lookup(server string) (*session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess := r.sessions[strings.TrimSpace(server)]
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, server)
	}
	return sess, nil
}

func (r *Registry) allSessions() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*session, 0, len(names))
	for _, name := range names {
		out = append(out, r.sessions[name])
	}
	return out
}
