package store

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemory_AppendAndRecentOrder(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e := Entry{Role: RoleUser, Content: fmt.Sprintf("msg-%d", i), Timestamp: time.Now()}
		if err := m.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := m.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Content != "msg-1" || got[1].Content != "msg-2" {
		t.Fatalf("expected oldest-first suffix, got %q %q", got[0].Content, got[1].Content)
	}
}

func TestMemory_EvictsOldestOnOverflow(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = m.Append(ctx, Entry{Role: RoleAssistant, Content: fmt.Sprintf("m%d", i)})
	}
	got, _ := m.Recent(ctx, 10)
	if len(got) != 3 {
		t.Fatalf("expected bound of 3, got %d", len(got))
	}
	if got[0].Content != "m2" {
		t.Fatalf("expected oldest surviving entry m2, got %q", got[0].Content)
	}
}

func TestMemory_ConversationIDStable(t *testing.T) {
	m := NewMemory(3)
	if m.ConversationID() == "" {
		t.Fatalf("expected non-empty conversation id")
	}
	if m.ConversationID() != m.ConversationID() {
		t.Fatalf("expected stable conversation id")
	}
}
