package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/secret"
)

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (c *captureSender) SendCode(_ context.Context, to, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.codes == nil {
		c.codes = map[string]string{}
	}
	c.codes[to] = code
	return nil
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func setup(t *testing.T) (*Service, *captureSender, *testClock) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hasher, err := secret.NewHasher("otp-pepper")
	require.NoError(t, err)
	sender := &captureSender{}
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(db, hasher, sender, WithClock(clock.Now)), sender, clock
}

const testPhone = "+15551236000"

func TestRequestAndVerify(t *testing.T) {
	svc, sender, _ := setup(t)
	ctx := context.Background()

	res, err := svc.Request(ctx, "+1 555 123 6000")
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	code := sender.codes[testPhone]
	require.Len(t, code, CodeLength)

	v, err := svc.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.Equal(t, OK, v.Outcome)
	assert.Equal(t, testPhone, v.Phone)

	// a code works once
	v, _ = svc.Verify(ctx, testPhone, code)
	assert.Equal(t, NoCode, v.Outcome)
}

func TestVerifyWrongCodeSpendsAttempts(t *testing.T) {
	svc, sender, _ := setup(t)
	ctx := context.Background()
	svc.Request(ctx, testPhone)

	for want := DefaultAttempts - 1; want >= 0; want-- {
		v, err := svc.Verify(ctx, testPhone, "not-it")
		require.NoError(t, err)
		assert.Equal(t, InvalidCode, v.Outcome)
		assert.Equal(t, want, v.AttemptsLeft)
	}

	v, _ := svc.Verify(ctx, testPhone, sender.codes[testPhone])
	assert.Equal(t, RateLimited, v.Outcome)
}

func TestVerifyExpired(t *testing.T) {
	svc, sender, clock := setup(t)
	ctx := context.Background()
	svc.Request(ctx, testPhone)

	clock.t = clock.t.Add(DefaultTTL)
	v, err := svc.Verify(ctx, testPhone, sender.codes[testPhone])
	require.NoError(t, err)
	assert.Equal(t, Expired, v.Outcome)
}

func TestNewRequestReplacesOldCode(t *testing.T) {
	svc, sender, clock := setup(t)
	ctx := context.Background()

	svc.Request(ctx, testPhone)
	first := sender.codes[testPhone]
	clock.t = clock.t.Add(time.Minute)
	svc.Request(ctx, testPhone)
	second := sender.codes[testPhone]

	if first != second {
		v, _ := svc.Verify(ctx, testPhone, first)
		assert.Equal(t, InvalidCode, v.Outcome)
	}
	v, _ := svc.Verify(ctx, testPhone, second)
	assert.Equal(t, OK, v.Outcome)
}

func TestRequestRateLimit(t *testing.T) {
	svc, _, clock := setup(t)
	ctx := context.Background()

	for i := 0; i < RequestLimit; i++ {
		res, err := svc.Request(ctx, testPhone)
		require.NoError(t, err)
		require.Equal(t, OK, res.Outcome)
		clock.t = clock.t.Add(time.Minute)
	}
	res, err := svc.Request(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, RateLimited, res.Outcome)

	res, _ = svc.Request(ctx, "+15551236001")
	assert.Equal(t, OK, res.Outcome, "limit is per phone")

	clock.t = clock.t.Add(RequestWindow)
	res, _ = svc.Request(ctx, testPhone)
	assert.Equal(t, OK, res.Outcome)
}

func TestBadPhone(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	res, err := svc.Request(ctx, "5551236000")
	require.NoError(t, err)
	assert.Equal(t, BadPhone, res.Outcome)

	v, err := svc.Verify(ctx, "nope", "123456")
	require.NoError(t, err)
	assert.Equal(t, BadPhone, v.Outcome)
}

func TestSenderFailureIsServerError(t *testing.T) {
	svc, sender, _ := setup(t)
	sender.err = errors.New("gateway down")

	res, err := svc.Request(context.Background(), testPhone)
	require.Error(t, err)
	assert.Equal(t, ServerError, res.Outcome)
}

func TestPurge(t *testing.T) {
	svc, _, clock := setup(t)
	ctx := context.Background()
	svc.Request(ctx, testPhone)

	n, err := svc.Purge(ctx, clock.t)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.Purge(ctx, clock.t.Add(RequestWindow+time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
