package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/erp/adminconsole/internal/infrastructure/metrics"
)

func mint(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("some-secret"))
	require.NoError(t, err)
	return token
}

func TestDecode(t *testing.T) {
	issued := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	token := mint(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(15 * time.Minute)),
		},
		Username:  "alice",
		Role:      "ADMIN",
		TokenType: "access",
	})

	claims := Decode(token)
	require.NotNil(t, claims)
	assert.Equal(t, "user-42", claims.SubjectName())
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "ADMIN", claims.Role)
	assert.Equal(t, "access", claims.TokenType)
	assert.True(t, claims.Issued().Equal(issued))
	assert.True(t, claims.Expiry().Equal(issued.Add(15*time.Minute)))
}

func TestDecode_IgnoresSignatureAndExpiry(t *testing.T) {
	// already expired and signed with a key the console never sees
	token := mint(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}})

	claims := Decode(token)
	require.NotNil(t, claims)
	assert.Equal(t, "user-1", claims.SubjectName())
}

func TestDecode_Malformed(t *testing.T) {
	for _, token := range []string{"", "not-a-jwt", "a.b.c", "eyJhbGciOiJIUzI1NiJ9.@@@.sig"} {
		t.Run(token, func(t *testing.T) {
			assert.Nil(t, Decode(token))
			assert.Equal(t, "", SubjectOf(token))
		})
	}
}

func TestSubjectOf_FallsBackToUserID(t *testing.T) {
	token := mint(t, Claims{UserID: "u-7"})
	assert.Equal(t, "u-7", SubjectOf(token))

	assert.Equal(t, "", SubjectOf(mint(t, Claims{Username: "nobody"})))
}

func TestValidate(t *testing.T) {
	access := mint(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})

	assert.Equal(t, Validity{Valid: true, Subject: "user-1"}, Validate(access, "refresh"))
	assert.False(t, Validate(access, "").Valid)
	assert.False(t, Validate("", "refresh").Valid)
	assert.False(t, Validate("garbage", "refresh").Valid)
}

func TestClaims_ExpiresWithin(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute))}}

	assert.True(t, claims.ExpiresWithin(now, 2*time.Minute))
	assert.False(t, claims.ExpiresWithin(now, 30*time.Second))
	assert.False(t, (&Claims{}).ExpiresWithin(now, time.Hour))
}

type fakeClearer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeClearer) ClearTokens(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func TestTerminator_NavigatesOnce(t *testing.T) {
	store := &fakeClearer{}
	var navigations atomic.Int32
	var lastReason atomic.Value
	nav := NavigatorFunc(func(_ context.Context, reason string) {
		navigations.Add(1)
		lastReason.Store(reason)
	})
	m := metrics.New("test")
	term := NewTerminator(store, nav, WithMetrics(m))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			term.Terminate(context.Background(), "INVALID_REFRESH_TOKEN")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), store.calls.Load())
	assert.Equal(t, int32(1), navigations.Load())
	assert.Equal(t, "INVALID_REFRESH_TOKEN", lastReason.Load())
	assert.True(t, term.Ended())
}

func TestTerminator_Reset(t *testing.T) {
	store := &fakeClearer{}
	var navigations int
	term := NewTerminator(store, NavigatorFunc(func(context.Context, string) { navigations++ }))

	term.Terminate(context.Background(), "a")
	term.Terminate(context.Background(), "b")
	assert.Equal(t, 1, navigations)

	term.Reset()
	assert.False(t, term.Ended())

	term.Terminate(context.Background(), "c")
	assert.Equal(t, 2, navigations)
}

func TestTerminator_LogoutDefersNavigation(t *testing.T) {
	store := &fakeClearer{}
	var reasons []string
	term := NewTerminator(store, NavigatorFunc(func(_ context.Context, reason string) {
		reasons = append(reasons, reason)
	}))

	term.Terminate(WithLogout(context.Background()), "REFRESH_TOKEN_EXPIRED")
	assert.Equal(t, int32(1), store.calls.Load())
	assert.Empty(t, reasons)
	assert.False(t, term.Ended())

	term.Terminate(context.Background(), "LOGOUT")
	assert.Equal(t, []string{"LOGOUT"}, reasons)
	assert.True(t, term.Ended())
}

func TestTerminator_ClearFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	store := &fakeClearer{err: errors.New("disk full")}
	term := NewTerminator(store, nil, WithLogger(zap.New(core)))

	assert.NotPanics(t, func() { term.Terminate(context.Background(), "INVALID_TOKEN") })
	assert.Equal(t, 1, logs.FilterMessage("clearing credentials on session end").Len())
	assert.True(t, term.Ended())
}
