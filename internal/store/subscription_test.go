package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/chatgate/internal/entitlement"
	"github.com/dukerupert/chatgate/internal/model"
)

func ptr(t time.Time) *time.Time { return &t }

func TestSubscriptionUpsertIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ss := NewSubscriptionStore(db)
	ctx := context.Background()
	uid := createTestUser(t, db, "+15551230030")

	in := SubscriptionUpsert{
		UserID:           uid,
		ExternalRef:      "order-1",
		Plan:             "monthly",
		Status:           model.SubscriptionActive,
		CurrentPeriodEnd: ptr(testNow.Add(30 * 24 * time.Hour)),
	}
	first, err := ss.Upsert(ctx, in, testNow)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := ss.Upsert(ctx, in, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("retry upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("retry created a new row: %d vs %d", first.ID, second.ID)
	}
	if second.Status != model.SubscriptionActive || second.Plan != "monthly" {
		t.Errorf("subscription = %+v", second)
	}
}

func TestSubscriptionPeriodEndOnlyMovesForward(t *testing.T) {
	db := openTestDB(t)
	ss := NewSubscriptionStore(db)
	ctx := context.Background()
	uid := createTestUser(t, db, "+15551230031")
	end := testNow.Add(30 * 24 * time.Hour)

	ss.Upsert(ctx, SubscriptionUpsert{
		UserID: uid, ExternalRef: "order-1", Plan: "monthly",
		Status: model.SubscriptionActive, CurrentPeriodEnd: ptr(end),
	}, testNow)

	// a late, stale event must not shorten the period
	sub, _ := ss.Upsert(ctx, SubscriptionUpsert{
		UserID: uid, ExternalRef: "order-1", Plan: "monthly",
		Status: model.SubscriptionActive, CurrentPeriodEnd: ptr(end.Add(-10 * 24 * time.Hour)),
	}, testNow)
	if !sub.CurrentPeriodEnd.Equal(end) {
		t.Errorf("period end = %v, want %v", sub.CurrentPeriodEnd, end)
	}

	renewed := end.Add(30 * 24 * time.Hour)
	sub, _ = ss.Upsert(ctx, SubscriptionUpsert{
		UserID: uid, ExternalRef: "order-1", Plan: "monthly",
		Status: model.SubscriptionActive, CurrentPeriodEnd: ptr(renewed),
	}, testNow)
	if !sub.CurrentPeriodEnd.Equal(renewed) {
		t.Errorf("period end = %v, want %v", sub.CurrentPeriodEnd, renewed)
	}

	refundedAt := testNow.Add(time.Hour)
	sub, _ = ss.Upsert(ctx, SubscriptionUpsert{
		UserID: uid, ExternalRef: "order-1", Plan: "monthly",
		Status: model.SubscriptionRefunded, CurrentPeriodEnd: ptr(refundedAt),
	}, testNow)
	if !sub.CurrentPeriodEnd.Equal(refundedAt) {
		t.Errorf("refund should shorten period end: got %v, want %v", sub.CurrentPeriodEnd, refundedAt)
	}
}

func TestSubscriptionLatestFor(t *testing.T) {
	db := openTestDB(t)
	ss := NewSubscriptionStore(db)
	ctx := context.Background()
	uid := createTestUser(t, db, "+15551230032")

	sub, err := ss.LatestFor(ctx, uid)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if sub != nil {
		t.Fatal("expected nil with no rows")
	}

	ss.Upsert(ctx, SubscriptionUpsert{UserID: uid, ExternalRef: "old", Status: model.SubscriptionExpired}, testNow)
	ss.Upsert(ctx, SubscriptionUpsert{UserID: uid, ExternalRef: "new", Status: model.SubscriptionActive}, testNow.Add(time.Hour))

	sub, _ = ss.LatestFor(ctx, uid)
	if sub.ExternalRef != "new" {
		t.Errorf("latest = %q, want new", sub.ExternalRef)
	}
}

func TestSubscriptionExpireStalePeriods(t *testing.T) {
	db := openTestDB(t)
	ss := NewSubscriptionStore(db)
	ctx := context.Background()
	uid := createTestUser(t, db, "+15551230033")
	other := createTestUser(t, db, "+15551230034")

	ss.Upsert(ctx, SubscriptionUpsert{
		UserID: uid, ExternalRef: "lapsed", Status: model.SubscriptionActive,
		CurrentPeriodEnd: ptr(testNow.Add(-time.Hour)),
	}, testNow.Add(-48*time.Hour))
	ss.Upsert(ctx, SubscriptionUpsert{
		UserID: other, ExternalRef: "current", Status: model.SubscriptionActive,
		CurrentPeriodEnd: ptr(testNow.Add(time.Hour)),
	}, testNow.Add(-48*time.Hour))

	n, err := ss.ExpireStalePeriods(ctx, testNow)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}
	sub, _ := ss.GetByExternalRef(ctx, "lapsed")
	if sub.Status != model.SubscriptionExpired {
		t.Errorf("status = %q, want expired", sub.Status)
	}
	sub, _ = ss.GetByExternalRef(ctx, "current")
	if sub.Status != model.SubscriptionActive {
		t.Errorf("status = %q, want active", sub.Status)
	}
}

func TestSubscriptionMarkCancelled(t *testing.T) {
	db := openTestDB(t)
	ss := NewSubscriptionStore(db)
	ctx := context.Background()
	uid := createTestUser(t, db, "+15551230035")

	ok, err := ss.MarkCancelled(ctx, uid, testNow)
	if err != nil {
		t.Fatalf("mark cancelled: %v", err)
	}
	if ok {
		t.Error("expected false without a subscription")
	}

	ss.Upsert(ctx, SubscriptionUpsert{
		UserID: uid, ExternalRef: "order-1", Status: model.SubscriptionActive,
		CurrentPeriodEnd: ptr(testNow.Add(20 * 24 * time.Hour)),
	}, testNow.Add(-24*time.Hour))

	ok, _ = ss.MarkCancelled(ctx, uid, testNow)
	if !ok {
		t.Fatal("expected latest row to be cancelled")
	}
	sub, _ := ss.LatestFor(ctx, uid)
	if sub.Status != model.SubscriptionCancelled {
		t.Errorf("status = %q", sub.Status)
	}
	if sub.CancelledAt == nil || !sub.CurrentPeriodEnd.Equal(testNow) {
		t.Errorf("cancelled_at = %v, period end = %v", sub.CancelledAt, sub.CurrentPeriodEnd)
	}
}

func TestSubscriptionUpsertNormalizesStatus(t *testing.T) {
	db := openTestDB(t)
	ss := NewSubscriptionStore(db)
	ctx := context.Background()
	uid := createTestUser(t, db, "+15551230036")

	ss.Upsert(ctx, SubscriptionUpsert{
		UserID: uid, ExternalRef: "order-1", Plan: "monthly",
		Status: model.SubscriptionActive, CurrentPeriodEnd: ptr(testNow.Add(30 * 24 * time.Hour)),
	}, testNow)

	// the US spelling must shorten the period exactly like "cancelled"
	sub, err := ss.Upsert(ctx, SubscriptionUpsert{
		UserID: uid, ExternalRef: "order-1", Plan: "monthly",
		Status: " Canceled ", CurrentPeriodEnd: ptr(testNow),
	}, testNow)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if sub.Status != model.SubscriptionCancelled {
		t.Errorf("status = %q, want %q", sub.Status, model.SubscriptionCancelled)
	}
	if !sub.CurrentPeriodEnd.Equal(testNow) {
		t.Errorf("period end = %v, want %v", sub.CurrentPeriodEnd, testNow)
	}
	if d := entitlement.Evaluate(sub, testNow); d.HasPaidAccess || d.Status != entitlement.StatusCancelled {
		t.Errorf("decision = %+v, want no access and CANCELLED", d)
	}
}
