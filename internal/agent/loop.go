package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/liaison-ai/liaison/internal/bus"
	"github.com/liaison-ai/liaison/internal/command"
	"github.com/liaison-ai/liaison/internal/config"
	"github.com/liaison-ai/liaison/internal/mcp"
	"github.com/liaison-ai/liaison/internal/session"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Status classifies how one agent invocation ended.
type Status string

const (
	StatusDone      Status = "done"
	StatusTruncated Status = "truncated"
	StatusFailed    Status = "failed"
)

// Outcome is the result of one agent invocation.
type Outcome struct {
	Status  Status
	Content string
}

// Loop drives the model-tool iteration for free-text messages and routes
// directives through the command router.
type Loop struct {
	bus      *bus.MessageBus
	model    model.ChatModel
	registry *mcp.Registry
	router   *command.Router
	threads  *session.Store
	builder  *ContextBuilder
	config   *config.Config

	maxIterations int
	historyTurns  int
	toolTimeout   time.Duration

	// inflight tracks the loop currently running for each thread, so a
	// newer message on the same thread supersedes it.
	mu       sync.Mutex
	inflight map[string]*inflightRun

	OnToolStart  func(name, args string)
	OnToolFinish func(name, result string, err error)
}

// NewLoop creates the agent loop over one registry and message bus.
func NewLoop(cfg *config.Config, msgBus *bus.MessageBus, chatModel model.ChatModel, registry *mcp.Registry) (*Loop, error) {
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		return nil, err
	}

	agentCfg := cfg.Agent
	toolTimeout := time.Duration(agentCfg.ToolTimeoutSecs) * time.Second

	return &Loop{
		bus:           msgBus,
		model:         chatModel,
		registry:      registry,
		router:        command.NewRouter(registry, agentCfg.CommandPrefix, toolTimeout),
		threads:       session.NewStore(workspacePath, agentCfg.HistoryTurns),
		builder:       NewContextBuilder(agentCfg.SystemPrompt),
		config:        cfg,
		maxIterations: agentCfg.MaxToolIterations,
		historyTurns:  agentCfg.HistoryTurns,
		toolTimeout:   toolTimeout,
		inflight:      make(map[string]*inflightRun),
	}, nil
}

// Threads returns the thread context store.
func (l *Loop) Threads() *session.Store {
	return l.threads
}

func (l *Loop) bindTools() error {
	if l.model == nil {
		return nil
	}

	agentTools := l.registry.AgentTools()
	toolInfos := make([]*schema.ToolInfo, 0, len(agentTools))
	for _, t := range agentTools {
		info, err := t.Info(context.Background())
		if err != nil {
			return err
		}
		toolInfos = append(toolInfos, info)
	}
	if len(toolInfos) == 0 {
		return nil
	}

	if binder, ok := l.model.(interface {
		BindTools([]*schema.ToolInfo) error
	}); ok {
		return binder.BindTools(toolInfos)
	}
	return nil
}

// Run consumes inbound messages until ctx ends. Each message is handled in
// its own goroutine; a new message on a thread with an in-flight loop cancels
// that loop and discards its result.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.bindTools(); err != nil {
		return err
	}

	slog.Info("agent loop started", "max_iterations", l.maxIterations)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-l.bus.Inbound():
			if !ok {
				return fmt.Errorf("inbound channel closed")
			}
			if msg == nil {
				slog.Warn("received nil inbound message")
				continue
			}
			if strings.TrimSpace(msg.RequestID) == "" {
				msg.RequestID = bus.NewRequestID()
			}
			go l.handleInbound(ctx, msg)
		}
	}
}

type inflightRun struct {
	cancel context.CancelFunc
}

func (l *Loop) handleInbound(parent context.Context, msg *bus.InboundMessage) {
	threadKey := msg.ThreadKey()
	ctx, cancel := context.WithCancel(bus.WithRequestID(parent, msg.RequestID))
	defer cancel()
	run := &inflightRun{cancel: cancel}

	l.mu.Lock()
	if prev, ok := l.inflight[threadKey]; ok {
		prev.cancel()
	}
	l.inflight[threadKey] = run
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.inflight[threadKey] == run {
			delete(l.inflight, threadKey)
		}
		l.mu.Unlock()
	}()

	content := l.Process(ctx, msg)

	// Superseded or shutting down: the reply is stale, drop it.
	if ctx.Err() != nil && parent.Err() == nil {
		slog.Info("discarding superseded reply", "request_id", msg.RequestID, "thread", threadKey)
		return
	}
	if content == "" {
		return
	}

	l.bus.PublishOutbound(&bus.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		ThreadID:  msg.ThreadID,
		Content:   content,
		RequestID: msg.RequestID,
	})
}

// Process classifies one inbound message as directive or free text and
// returns the chat-postable reply.
func (l *Loop) Process(ctx context.Context, msg *bus.InboundMessage) string {
	slog.Info("processing message",
		"request_id", msg.RequestID,
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"sender", msg.SenderID,
		"thread", msg.ThreadKey(),
	)

	reply, handled, err := l.router.Handle(ctx, msg.Content)
	if handled {
		if err != nil {
			return directiveErrorReply(err)
		}
		return reply
	}

	outcome := l.RunAgent(ctx, msg.ThreadKey(), msg.Content)
	return outcome.Content
}

func directiveErrorReply(err error) string {
	var usageErr *command.UsageError
	var argErr *command.ArgumentError
	if errors.As(err, &usageErr) || errors.As(err, &argErr) {
		return err.Error()
	}
	return "Error: " + err.Error()
}

// RunAgent executes the bounded model-tool iteration for one free-text
// message on one thread.
func (l *Loop) RunAgent(ctx context.Context, threadKey, content string) Outcome {
	if l.model == nil {
		return Outcome{Status: StatusFailed, Content: "No model configured."}
	}

	thread := l.threads.GetOrCreate(threadKey)
	messages := l.builder.BuildMessages(thread.History(l.historyTurns), content)
	thread.Append(session.UserTurn(content))

	outcome := l.iterate(ctx, thread, messages)

	// A superseded run's outcome is discarded; recording its cancellation
	// failure would replay into the next run's model context.
	if ctx.Err() != nil {
		return outcome
	}

	thread.Append(session.AssistantTurn(outcome.Content))
	if err := l.threads.Save(thread); err != nil {
		slog.Warn("persist thread failed", "thread", threadKey, "error", err)
	}
	return outcome
}

// iterate runs inference rounds until the model stops calling tools or the
// iteration budget runs out. At most maxIterations+1 inference calls happen.
func (l *Loop) iterate(ctx context.Context, thread *session.Thread, messages []*schema.Message) Outcome {
	var finalContent string

	for iteration := 0; ; iteration++ {
		resp, err := l.model.Generate(ctx, messages)
		if err != nil {
			return Outcome{Status: StatusFailed, Content: "Model error: " + err.Error()}
		}
		if strings.TrimSpace(resp.Content) != "" {
			finalContent = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			break
		}
		if iteration >= l.maxIterations {
			slog.Warn("tool iteration budget exhausted", "iterations", iteration)
			return Outcome{Status: StatusTruncated, Content: truncatedContent(finalContent, iteration)}
		}

		messages = append(messages, resp)
		for _, tc := range resp.ToolCalls {
			result, err := l.executeTool(ctx, thread, tc)
			if err != nil {
				var svcErr *mcp.ServiceError
				if errors.As(err, &svcErr) {
					return Outcome{
						Status:  StatusFailed,
						Content: "Tool service unavailable: " + svcErr.Msg,
					}
				}
				result = "Error: " + err.Error()
			}
			messages = append(messages, &schema.Message{
				Role:       schema.Tool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	if strings.TrimSpace(finalContent) == "" {
		finalContent = "Processing complete."
	}
	return Outcome{Status: StatusDone, Content: finalContent}
}

func truncatedContent(partial string, iterations int) string {
	note := fmt.Sprintf("(stopped after %d tool iterations)", iterations)
	if strings.TrimSpace(partial) == "" {
		return "I could not finish within the tool iteration budget. " + note
	}
	return partial + "\n\n" + note
}

// executeTool resolves the owning server from the namespaced tool name and
// invokes it through the registry. The call and its result, or its structured
// error, are appended to the thread either way.
func (l *Loop) executeTool(ctx context.Context, thread *session.Thread, tc schema.ToolCall) (string, error) {
	name := tc.Function.Name
	argsJSON := tc.Function.Arguments

	if l.OnToolStart != nil {
		l.OnToolStart(name, argsJSON)
	}

	result, err := l.invokeNamespaced(ctx, name, argsJSON)

	toolTurn := session.ToolTurn(name, argsJSON, result)
	if err != nil {
		toolTurn.ToolResult = "Error: " + err.Error()
	}
	thread.Append(toolTurn)

	slog.Info("tool execution finished",
		"request_id", bus.RequestIDFromContext(ctx),
		"tool", name,
		"success", err == nil,
	)
	if l.OnToolFinish != nil {
		l.OnToolFinish(name, result, err)
	}
	return result, err
}

func (l *Loop) invokeNamespaced(ctx context.Context, name, argsJSON string) (string, error) {
	server, toolName, ok := mcp.SplitToolName(name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	if !l.registry.HasReadyServer() {
		return "", &mcp.ServiceError{Msg: "no MCP servers reachable"}
	}

	callCtx := ctx
	if l.toolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.toolTimeout)
		defer cancel()
	}
	return l.registry.Invoke(callCtx, server, toolName, argsJSON)
}

// ProcessDirect handles one message synchronously, for the CLI and gateway.
func (l *Loop) ProcessDirect(ctx context.Context, content string) (string, error) {
	return l.ProcessForChannel(ctx, "cli", "direct", "user", content)
}

// ProcessForChannel handles one message synchronously for a given channel and
// chat, bypassing the bus.
func (l *Loop) ProcessForChannel(ctx context.Context, channel, chatID, senderID, content string) (string, error) {
	if err := l.bindTools(); err != nil {
		return "", err
	}
	if strings.TrimSpace(channel) == "" {
		channel = "cli"
	}
	if strings.TrimSpace(chatID) == "" {
		chatID = "direct"
	}
	if strings.TrimSpace(senderID) == "" {
		senderID = "user"
	}

	msg := &bus.InboundMessage{
		Channel:   channel,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		RequestID: bus.RequestIDFromContext(ctx),
	}
	if strings.TrimSpace(msg.RequestID) == "" {
		msg.RequestID = bus.NewRequestID()
	}
	return l.Process(bus.WithRequestID(ctx, msg.RequestID), msg), nil
}
