// ABOUTME: Tests for the client outbox
// ABOUTME: Covers compose/commit/fail reconciliation and pending ordering

package client

import (
	"errors"
	"testing"
)

func TestComposeAndCommit(t *testing.T) {
	outbox := NewOutbox()

	p := outbox.Compose("alice|bob", "hello")
	if p.ProvisionalID == "" {
		t.Fatal("expected a provisional ID")
	}
	if p.State != StatePending {
		t.Errorf("expected pending state, got %q", p.State)
	}

	committed, err := outbox.Commit(p.ProvisionalID, "server-id-1", "delivered")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if committed.State != StateCommitted {
		t.Errorf("expected committed state, got %q", committed.State)
	}
	if committed.MessageID != "server-id-1" {
		t.Errorf("expected server message ID, got %q", committed.MessageID)
	}
	if committed.Status != "delivered" {
		t.Errorf("expected delivered status, got %q", committed.Status)
	}

	if got := outbox.Pending(); len(got) != 0 {
		t.Errorf("expected empty pending set after commit, got %d entries", len(got))
	}
}

func TestCommitUnknownProvisional(t *testing.T) {
	outbox := NewOutbox()
	if _, err := outbox.Commit("ghost", "id", "sent"); !errors.Is(err, ErrUnknownProvisional) {
		t.Errorf("expected ErrUnknownProvisional, got %v", err)
	}
}

func TestDoubleCommitRejected(t *testing.T) {
	outbox := NewOutbox()
	p := outbox.Compose("alice|bob", "hello")

	if _, err := outbox.Commit(p.ProvisionalID, "id", "sent"); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if _, err := outbox.Commit(p.ProvisionalID, "id", "sent"); !errors.Is(err, ErrUnknownProvisional) {
		t.Errorf("expected ErrUnknownProvisional on second commit, got %v", err)
	}
}

func TestFail(t *testing.T) {
	outbox := NewOutbox()
	p := outbox.Compose("alice|bob", "hello")

	failed, err := outbox.Fail(p.ProvisionalID, "rate limited")
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if failed.State != StateFailed {
		t.Errorf("expected failed state, got %q", failed.State)
	}
	if failed.FailReason != "rate limited" {
		t.Errorf("expected fail reason, got %q", failed.FailReason)
	}
	if got := outbox.Pending(); len(got) != 0 {
		t.Errorf("expected empty pending set after fail, got %d entries", len(got))
	}
}

func TestPendingOldestFirst(t *testing.T) {
	outbox := NewOutbox()

	first := outbox.Compose("alice|bob", "one")
	second := outbox.Compose("alice|bob", "two")
	third := outbox.Compose("alice|bob", "three")

	pending := outbox.Pending()
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending entries, got %d", len(pending))
	}

	want := []string{first.ProvisionalID, second.ProvisionalID, third.ProvisionalID}
	for i, p := range pending {
		if p.ProvisionalID != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], p.ProvisionalID)
		}
	}
}
