package auth

import (
	"context"
	"testing"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ac := AuthContext{
		UserID:          1,
		SessionID:       "abc",
		DeviceID:        "dev-a",
		SessionDeviceID: "dev-a",
	}

	ctx := WithAuth(context.Background(), ac)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got.UserID != 1 {
		t.Errorf("UserID = %d, want 1", got.UserID)
	}
	if got.SessionID != "abc" {
		t.Errorf("SessionID = %q, want abc", got.SessionID)
	}
	if got.DeviceID != "dev-a" {
		t.Errorf("DeviceID = %q, want dev-a", got.DeviceID)
	}
	if got.DeviceAuthorized {
		t.Error("DeviceAuthorized should default to false")
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected false for missing AuthContext")
	}
}

func TestUserID(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{UserID: 7})
	if UserID(ctx) != 7 {
		t.Errorf("UserID = %d, want 7", UserID(ctx))
	}
}

func TestUserIDMissing(t *testing.T) {
	if UserID(context.Background()) != 0 {
		t.Error("expected 0 for missing context")
	}
}

func TestDeviceID(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{DeviceID: "dev-b"})
	if DeviceID(ctx) != "dev-b" {
		t.Errorf("DeviceID = %q, want dev-b", DeviceID(ctx))
	}
	if DeviceID(context.Background()) != "" {
		t.Error("expected empty device id for missing context")
	}
}
