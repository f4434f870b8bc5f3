package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestThread_AppendAndHistory(t *testing.T) {
	thread := &Thread{Key: "test"}
	thread.Append(UserTurn("hello"))
	thread.Append(AssistantTurn("hi there"))

	history := thread.History(10)
	if len(history) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(history))
	}
	if history[0].Role != RoleUser {
		t.Errorf("expected role=user, got %s", history[0].Role)
	}
	if history[0].Timestamp.IsZero() {
		t.Error("expected append to stamp the turn")
	}
}

func TestThread_WindowEvictsOldestNonAnchor(t *testing.T) {
	thread := &Thread{Key: "test", maxTurns: 4}
	thread.Append(AnchorTurn(RoleSystem, "framing"))
	for i := 0; i < 6; i++ {
		thread.Append(UserTurn(fmt.Sprintf("msg-%d", i)))
	}

	history := thread.History(0)
	if len(history) != 4 {
		t.Fatalf("expected window of 4 turns, got %d", len(history))
	}
	if !history[0].Anchor || history[0].Content != "framing" {
		t.Fatalf("expected anchor to survive eviction, got %+v", history[0])
	}
	// Oldest non-anchor turns go first; the tail keeps arrival order.
	for i, want := range []string{"msg-3", "msg-4", "msg-5"} {
		if history[i+1].Content != want {
			t.Fatalf("turn %d: expected %q, got %q", i+1, want, history[i+1].Content)
		}
	}
}

func TestThread_HistoryKeepsAnchorsOutsideLimit(t *testing.T) {
	thread := &Thread{Key: "test"}
	thread.Append(AnchorTurn(RoleSystem, "framing"))
	for i := 0; i < 5; i++ {
		thread.Append(UserTurn(fmt.Sprintf("msg-%d", i)))
	}

	history := thread.History(2)
	if len(history) != 3 {
		t.Fatalf("expected anchor plus 2 tail turns, got %d", len(history))
	}
	if !history[0].Anchor || history[0].Content != "framing" {
		t.Fatalf("expected anchor first, got %+v", history[0])
	}
	for i, want := range []string{"msg-3", "msg-4"} {
		if history[i+1].Content != want {
			t.Fatalf("turn %d: expected %q, got %q", i+1, want, history[i+1].Content)
		}
	}
}

func TestStore_GetOrCreate_SameInstance(t *testing.T) {
	store := NewStore(t.TempDir(), 0)

	first := store.GetOrCreate("telegram:123")
	second := store.GetOrCreate("telegram:123")
	if first != second {
		t.Error("expected same thread instance")
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	baseDir := t.TempDir()

	store1 := NewStore(baseDir, 0)
	thread := store1.GetOrCreate("persist-test")
	thread.Append(UserTurn("What is the weather?"))
	thread.Append(ToolTurn("mcp.weather.lookup", `{"city":"oslo"}`, `{"temp":12}`))
	thread.Append(AssistantTurn("12 degrees in Oslo."))

	if err := store1.Save(thread); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	store2 := NewStore(baseDir, 0)
	loaded := store2.GetOrCreate("persist-test")

	history := loaded.History(0)
	if len(history) != 3 {
		t.Fatalf("expected 3 turns after load, got %d", len(history))
	}
	if history[1].Role != RoleTool || history[1].ToolName != "mcp.weather.lookup" {
		t.Fatalf("tool turn did not survive reload: %+v", history[1])
	}
	if history[1].ToolArgs != `{"city":"oslo"}` || history[1].ToolResult != `{"temp":12}` {
		t.Fatalf("tool call payload did not survive reload: %+v", history[1])
	}
	if history[2].Content != "12 degrees in Oslo." {
		t.Fatalf("unexpected final turn: %+v", history[2])
	}
}

func TestStore_EmptyThreadNotSaved(t *testing.T) {
	baseDir := t.TempDir()

	store := NewStore(baseDir, 0)
	thread := store.GetOrCreate("empty-thread")

	if err := store.Save(thread); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(baseDir, "threads"))
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	for _, entry := range entries {
		if entry.Name() == "empty-thread.jsonl" {
			t.Fatal("expected no file for empty thread")
		}
	}
}

func TestStore_Reset(t *testing.T) {
	baseDir := t.TempDir()

	store := NewStore(baseDir, 0)
	thread := store.GetOrCreate("reset-me")
	thread.Append(UserTurn("hello"))
	if err := store.Save(thread); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if err := store.Reset("reset-me"); err != nil {
		t.Fatalf("Reset error: %v", err)
	}

	fresh := store.GetOrCreate("reset-me")
	if fresh == thread {
		t.Error("expected a new thread instance after reset")
	}
	if fresh.Len() != 0 {
		t.Errorf("expected empty history after reset, got %d turns", fresh.Len())
	}

	// Resetting a thread that never persisted is not an error.
	if err := store.Reset("never-existed"); err != nil {
		t.Fatalf("Reset of unknown thread error: %v", err)
	}
}

func TestThread_ConcurrentAppends(t *testing.T) {
	thread := &Thread{Key: "concurrent", maxTurns: 1000}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				thread.Append(UserTurn(fmt.Sprintf("w%d-%d", n, j)))
			}
		}(i)
	}
	wg.Wait()

	if thread.Len() != 200 {
		t.Fatalf("expected 200 turns, got %d", thread.Len())
	}
}
