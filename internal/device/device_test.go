package device

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/store"
)

type tick struct{ t time.Time }

// next returns a strictly increasing time so creation order is observable.
func (c *tick) next() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func setup(t *testing.T, path string) (*Registry, *sql.DB, int64) {
	t.Helper()
	db, err := database.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &tick{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock.next()
	}
	u, _, err := store.NewUserStore(db).GetOrCreate(context.Background(), "+15551238000", now())
	require.NoError(t, err)
	return NewRegistry(db, 3, WithClock(now)), db, u.ID
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("3f2c1a9e-0d4b-4c1e-9a77-1b2c3d4e5f60"))
	assert.True(t, ValidID("web:chrome_1.2"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("has space"))
	assert.False(t, ValidID("semi;colon"))
	assert.False(t, ValidID(strings.Repeat("a", 129)))
	assert.True(t, ValidID(strings.Repeat("a", 128)))
}

func TestAuthorizeIsIdempotent(t *testing.T) {
	r, _, uid := setup(t, ":memory:")
	ctx := context.Background()

	res, err := r.Authorize(ctx, uid, "dev-a")
	require.NoError(t, err)
	assert.Equal(t, AuthorizeResult{Outcome: OK, Authorized: true, DeviceCount: 1}, res)

	res, err = r.Authorize(ctx, uid, "dev-a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeviceCount)
	assert.True(t, res.Authorized)
}

func TestAuthorizeAtLimitDoesNotEvict(t *testing.T) {
	r, _, uid := setup(t, ":memory:")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Authorize(ctx, uid, id)
		require.NoError(t, err)
	}

	res, err := r.Authorize(ctx, uid, "d")
	require.NoError(t, err)
	assert.Equal(t, SlotsFull, res.Outcome)
	assert.False(t, res.Authorized)
	assert.True(t, res.OverLimit)
	assert.Equal(t, 3, res.DeviceCount)

	// an already-active device is still a no-op success at the limit
	res, err = r.Authorize(ctx, uid, "b")
	require.NoError(t, err)
	assert.True(t, res.Authorized)
}

func TestAuthorizeBadDeviceID(t *testing.T) {
	r, _, uid := setup(t, ":memory:")

	res, err := r.Authorize(context.Background(), uid, "")
	require.NoError(t, err)
	assert.Equal(t, BadDeviceID, res.Outcome)
}

func TestRevokeOutcomes(t *testing.T) {
	r, db, uid := setup(t, ":memory:")
	ctx := context.Background()
	other, _, err := store.NewUserStore(db).GetOrCreate(ctx, "+15551238001", time.Now())
	require.NoError(t, err)
	_, err = r.Authorize(ctx, other.ID, "theirs")
	require.NoError(t, err)
	r.Authorize(ctx, uid, "a")
	r.Authorize(ctx, uid, "b")

	res, err := r.Revoke(ctx, uid, "a")
	require.NoError(t, err)
	assert.Equal(t, RevokeResult{Outcome: OK, DeviceCount: 1}, res)

	res, _ = r.Revoke(ctx, uid, "a")
	assert.Equal(t, DeviceAlreadyRevoked, res.Outcome)
	assert.Equal(t, 1, res.DeviceCount)

	res, _ = r.Revoke(ctx, uid, "theirs")
	assert.Equal(t, DeviceNotFoundForUser, res.Outcome)

	res, _ = r.Revoke(ctx, uid, "bad id!")
	assert.Equal(t, BadDeviceID, res.Outcome)

	ok, err := r.IsAuthorized(ctx, other.ID, "theirs")
	require.NoError(t, err)
	assert.True(t, ok, "another user's device must be untouched")
}

func TestRevokeOldest(t *testing.T) {
	r, _, uid := setup(t, ":memory:")
	ctx := context.Background()

	id, count, err := r.RevokeOldest(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Zero(t, count)

	r.Authorize(ctx, uid, "first")
	r.Authorize(ctx, uid, "second")

	id, count, err = r.RevokeOldest(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "first", id)
	assert.Equal(t, 1, count)
}

func TestAttachEvictsOldest(t *testing.T) {
	r, _, uid := setup(t, ":memory:")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		r.Authorize(ctx, uid, id)
	}

	res, err := r.Attach(ctx, uid, "d", AttachOptions{EvictOldest: true})
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	assert.Equal(t, "a", res.RevokedDeviceID)
	assert.Equal(t, 3, res.DeviceCount)

	ok, _ := r.IsAuthorized(ctx, uid, "a")
	assert.False(t, ok)
	ok, _ = r.IsAuthorized(ctx, uid, "d")
	assert.True(t, ok)
}

func TestAttachWithNamedRevoke(t *testing.T) {
	r, db, uid := setup(t, ":memory:")
	ctx := context.Background()
	other, _, _ := store.NewUserStore(db).GetOrCreate(ctx, "+15551238002", time.Now())
	r.Authorize(ctx, other.ID, "theirs")
	for _, id := range []string{"a", "b", "c"} {
		r.Authorize(ctx, uid, id)
	}

	res, err := r.Attach(ctx, uid, "d", AttachOptions{RevokeDeviceID: "theirs"})
	require.NoError(t, err)
	assert.Equal(t, RevokeForbidden, res.Outcome)

	res, _ = r.Attach(ctx, uid, "d", AttachOptions{RevokeDeviceID: "ghost"})
	assert.Equal(t, RevokeNotFound, res.Outcome)

	res, _ = r.Attach(ctx, uid, "d", AttachOptions{RevokeDeviceID: "d"})
	assert.Equal(t, RevokeForbidden, res.Outcome)

	res, err = r.Attach(ctx, uid, "d", AttachOptions{RevokeDeviceID: "b"})
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	assert.Equal(t, "b", res.RevokedDeviceID)
	assert.Equal(t, 3, res.DeviceCount)
}

func TestAttachFounderAndTouch(t *testing.T) {
	r, _, uid := setup(t, ":memory:")
	ctx := context.Background()

	_, err := r.Attach(ctx, uid, "first", AttachOptions{Founder: true})
	require.NoError(t, err)
	require.NoError(t, r.Touch(ctx, uid, "first"))

	devices, err := r.List(ctx, uid)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].Founder)
	assert.NotNil(t, devices[0].LastSeenAt)
}

func assertWithinLimit(t *testing.T, r *Registry, uid int64) {
	t.Helper()
	n, err := r.CountActive(context.Background(), uid)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, r.MaxDevices())
}

func TestSlotLimitHoldsAcrossOperationSequence(t *testing.T) {
	r, _, uid := setup(t, ":memory:")
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("dev-%d", i%7)
		switch i % 4 {
		case 0:
			r.Authorize(ctx, uid, id)
		case 1:
			r.Attach(ctx, uid, id, AttachOptions{EvictOldest: true})
		case 2:
			r.Revoke(ctx, uid, fmt.Sprintf("dev-%d", (i+3)%7))
		case 3:
			r.RevokeOldest(ctx, uid)
		}
		assertWithinLimit(t, r, uid)
	}
}

func TestConcurrentAttachNeverExceedsLimit(t *testing.T) {
	r, _, uid := setup(t, filepath.Join(t.TempDir(), "slots.db"))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Attach(ctx, uid, fmt.Sprintf("tab-%d", i), AttachOptions{EvictOldest: i%2 == 0})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := r.CountActive(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
