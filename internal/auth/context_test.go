// ABOUTME: Tests for identity context propagation
// ABOUTME: Covers WithIdentity/FromContext/MustFromContext behavior

package auth

import (
	"context"
	"testing"
)

func TestWithIdentityAndFromContext(t *testing.T) {
	id := &Identity{UserID: "alice"}
	ctx := WithIdentity(context.Background(), id)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("expected Identity in context")
	}
	if got.UserID != "alice" {
		t.Errorf("expected UserID alice, got %q", got.UserID)
	}
}

func TestFromContextMissing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("expected nil for empty context, got %+v", got)
	}
}

func TestMustFromContextPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for missing Identity")
		}
	}()
	MustFromContext(context.Background())
}
