package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// DefaultMaxTurns bounds how much history one thread keeps in its window.
const DefaultMaxTurns = 50

// Turn is a single entry in a thread's conversation history. Immutable once
// appended.
type Turn struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolArgs   string    `json:"tool_args,omitempty"`
	ToolResult string    `json:"tool_result,omitempty"`
	Anchor     bool      `json:"anchor,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// UserTurn builds a plain user turn.
func UserTurn(content string) *Turn {
	return &Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds a plain assistant turn.
func AssistantTurn(content string) *Turn {
	return &Turn{Role: RoleAssistant, Content: content}
}

// ToolTurn records one tool call and its result or structured error text.
func ToolTurn(toolName, argsJSON, result string) *Turn {
	return &Turn{
		Role:       RoleTool,
		ToolName:   toolName,
		ToolArgs:   argsJSON,
		ToolResult: result,
	}
}

// AnchorTurn builds a turn that windowing never evicts, such as system framing.
func AnchorTurn(role, content string) *Turn {
	return &Turn{Role: role, Content: content, Anchor: true}
}

// Thread holds the ordered turn history for one chat thread. Appends on the
// same thread are serialized by its lock; distinct threads never contend.
type Thread struct {
	Key string

	mu       sync.RWMutex
	turns    []*Turn
	maxTurns int
}

// Append adds a turn and evicts the oldest non-anchor turns once the window
// budget is exceeded. Anchor turns survive eviction.
func (t *Thread) Append(turn *Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	t.turns = append(t.turns, turn)
	t.evictLocked()
}

func (t *Thread) evictLocked() {
	budget := t.maxTurns
	if budget <= 0 {
		budget = DefaultMaxTurns
	}
	if len(t.turns) <= budget {
		return
	}

	kept := make([]*Turn, 0, budget)
	over := len(t.turns) - budget
	for _, turn := range t.turns {
		if over > 0 && !turn.Anchor {
			over--
			continue
		}
		kept = append(kept, turn)
	}
	t.turns = kept
}

// History returns a copy of the last limit turns; limit <= 0 returns all.
// Anchor turns older than the window are kept in place, so the result may
// exceed limit when anchors are present.
func (t *Thread) History(limit int) []*Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit >= len(t.turns) {
		result := make([]*Turn, len(t.turns))
		copy(result, t.turns)
		return result
	}

	start := len(t.turns) - limit
	result := make([]*Turn, 0, limit)
	for i, turn := range t.turns {
		if i >= start || turn.Anchor {
			result = append(result, turn)
		}
	}
	return result
}

// Len reports the current number of turns in the window.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Store keeps ThreadContexts keyed by thread id and persists them as JSONL
// files under <baseDir>/threads.
type Store struct {
	dir      string
	maxTurns int

	mu      sync.Mutex
	threads map[string]*Thread
}

// NewStore creates a store persisting under baseDir. maxTurns <= 0 uses
// DefaultMaxTurns.
func NewStore(baseDir string, maxTurns int) *Store {
	dir := filepath.Join(baseDir, "threads")
	os.MkdirAll(dir, 0755)
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		dir:      dir,
		maxTurns: maxTurns,
		threads:  make(map[string]*Thread),
	}
}

// GetOrCreate returns the thread for key, loading persisted history the first
// time the key is seen. Each key maps to exactly one Thread instance.
func (s *Store) GetOrCreate(key string) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()

	if thread, ok := s.threads[key]; ok {
		return thread
	}

	thread := &Thread{Key: key, maxTurns: s.maxTurns}
	s.loadFromDisk(thread)
	s.threads[key] = thread
	return thread
}

// Save persists the thread's current window to disk. Empty threads leave no
// file behind.
func (s *Store) Save(thread *Thread) error {
	thread.mu.RLock()
	defer thread.mu.RUnlock()

	if len(thread.turns) == 0 {
		return nil
	}

	path := s.threadPath(thread.Key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, turn := range thread.turns {
		if err := enc.Encode(turn); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops the in-memory thread and removes its persisted history.
func (s *Store) Reset(key string) error {
	s.mu.Lock()
	delete(s.threads, key)
	s.mu.Unlock()

	err := os.Remove(s.threadPath(key))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) loadFromDisk(thread *Thread) {
	f, err := os.Open(s.threadPath(thread.Key))
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var turn Turn
		if err := json.Unmarshal(scanner.Bytes(), &turn); err == nil {
			thread.turns = append(thread.turns, &turn)
		}
	}
	thread.evictLocked()
}

func (s *Store) threadPath(key string) string {
	safeKey := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(key)
	return filepath.Join(s.dir, safeKey+".jsonl")
}
