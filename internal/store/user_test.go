package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dukerupert/chatgate/internal/database"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *sql.DB, phone string) int64 {
	t.Helper()
	u, _, err := NewUserStore(db).GetOrCreate(context.Background(), phone, testNow)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func TestUserGetOrCreate(t *testing.T) {
	us := NewUserStore(openTestDB(t))
	ctx := context.Background()

	u, created, err := us.GetOrCreate(ctx, "+15551230001", testNow)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if !created {
		t.Error("expected first call to create the user")
	}
	if u.Phone != "+15551230001" {
		t.Errorf("phone = %q", u.Phone)
	}
	if u.ConsentAt != nil {
		t.Error("expected nil consent_at")
	}

	again, created, err := us.GetOrCreate(ctx, "+15551230001", testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("second get or create: %v", err)
	}
	if created {
		t.Error("expected second call to find the existing user")
	}
	if again.ID != u.ID {
		t.Errorf("id = %d, want %d", again.ID, u.ID)
	}
	if !again.CreatedAt.Equal(testNow) {
		t.Errorf("created_at = %v, want %v", again.CreatedAt, testNow)
	}
}

func TestUserGetByPhoneNotFound(t *testing.T) {
	us := NewUserStore(openTestDB(t))

	u, err := us.GetByPhone(context.Background(), "+15550000000")
	if err != nil {
		t.Fatalf("get by phone: %v", err)
	}
	if u != nil {
		t.Error("expected nil for unknown phone")
	}
}

func TestUserSetConsentKeepsFirst(t *testing.T) {
	db := openTestDB(t)
	us := NewUserStore(db)
	ctx := context.Background()
	id := createTestUser(t, db, "+15551230002")

	if err := us.SetConsent(ctx, id, testNow); err != nil {
		t.Fatalf("set consent: %v", err)
	}
	if err := us.SetConsent(ctx, id, testNow.Add(24*time.Hour)); err != nil {
		t.Fatalf("set consent again: %v", err)
	}

	u, err := us.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if u.ConsentAt == nil || !u.ConsentAt.Equal(testNow) {
		t.Errorf("consent_at = %v, want %v", u.ConsentAt, testNow)
	}
}
