package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T) (*Manager, *fakeClock, int64) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	u, _, err := store.NewUserStore(db).GetOrCreate(context.Background(), "+15551239000", clock.Now())
	require.NoError(t, err)

	return NewManager(store.NewSessionStore(db), WithClock(clock.Now)), clock, u.ID
}

func TestCreateAndValidate(t *testing.T) {
	m, _, uid := setup(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, uid, "dev-a")
	require.NoError(t, err)

	res := m.Validate(ctx, sess.ID)
	require.True(t, res.OK())
	assert.Equal(t, uid, res.Session.UserID)
	assert.Equal(t, "dev-a", res.Session.DeviceID)
}

func TestValidateOutcomes(t *testing.T) {
	m, _, _ := setup(t)
	ctx := context.Background()

	assert.Equal(t, NoSession, m.Validate(ctx, "").Outcome)
	assert.Equal(t, SessionInvalid, m.Validate(ctx, "not-a-token").Outcome)
	assert.Equal(t, SessionNotFound, m.Validate(ctx, strings.Repeat("ab", 32)).Outcome)
}

func TestValidateExpiry(t *testing.T) {
	m, clock, uid := setup(t)
	ctx := context.Background()
	sess, err := m.Create(ctx, uid, "")
	require.NoError(t, err)

	clock.Advance(DefaultTTL - time.Second)
	assert.Equal(t, OK, m.Validate(ctx, sess.ID).Outcome)

	clock.Advance(time.Second)
	assert.Equal(t, SessionExpired, m.Validate(ctx, sess.ID).Outcome)
}

func TestRevokedSessionNeverValidatesAgain(t *testing.T) {
	m, clock, uid := setup(t)
	ctx := context.Background()
	sess, err := m.Create(ctx, uid, "dev-a")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, sess.ID))
	require.NoError(t, m.Revoke(ctx, sess.ID), "revoke is idempotent")

	for i := 0; i < 3; i++ {
		assert.Equal(t, SessionExpired, m.Validate(ctx, sess.ID).Outcome)
		clock.Advance(-24 * time.Hour)
	}
}

func TestRevokeAll(t *testing.T) {
	m, _, uid := setup(t)
	ctx := context.Background()
	a, _ := m.Create(ctx, uid, "dev-a")
	b, _ := m.Create(ctx, uid, "dev-b")

	n, err := m.RevokeAll(ctx, uid)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, SessionExpired, m.Validate(ctx, a.ID).Outcome)
	assert.Equal(t, SessionExpired, m.Validate(ctx, b.ID).Outcome)

	n, err = m.RevokeAll(ctx, uid)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCredentialRoundTrip(t *testing.T) {
	m, _, uid := setup(t)
	sess, err := m.Create(context.Background(), uid, "")
	require.NoError(t, err)
	cred := NewCredential(true, DefaultTTL)

	rec := httptest.NewRecorder()
	cred.Set(rec, sess)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, CookieName, c.Name)
	assert.Equal(t, sess.ID, c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, 30*24*60*60, c.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	assert.Equal(t, sess.ID, cred.FromRequest(req))
	assert.Empty(t, cred.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestCredentialClear(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCredential(false, DefaultTTL).Clear(rec)

	header := rec.Header().Get("Set-Cookie")
	assert.Contains(t, header, CookieName+"=")
	assert.Contains(t, header, "Max-Age=0")
	assert.Contains(t, header, "HttpOnly")
}
