package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/erp/adminconsole/internal/apierror"
	"github.com/erp/adminconsole/internal/client"
	"github.com/erp/adminconsole/internal/credential"
	"github.com/erp/adminconsole/internal/session"
	"github.com/erp/adminconsole/internal/testutil/fakeapi"
)

// MockNavigator is a mock implementation of session.Navigator
type MockNavigator struct {
	mock.Mock
}

func (m *MockNavigator) ToLogin(ctx context.Context, reason string) {
	m.Called(ctx, reason)
}

type countingClearer struct{ n int }

func (c *countingClearer) Clear() { c.n++ }

type fixture struct {
	api     *fakeapi.Server
	store   *credential.Store
	nav     *MockNavigator
	service *Service
	client  *client.Client
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{api: fakeapi.New(t), store: credential.NewStore(nil), nav: &MockNavigator{}}
	term := session.NewTerminator(f.store, f.nav)

	c, err := client.New(client.Config{BaseURL: f.api.URL()}, f.store, term)
	require.NoError(t, err)
	f.client = c
	f.service = NewService(c, f.store, term, opts...)
	return f
}

func adminCredentials() Credentials {
	return Credentials{Username: fakeapi.DefaultUsername, Password: fakeapi.DefaultPassword}
}

func TestService_Login(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.service.Login(ctx, adminCredentials())
	require.NoError(t, err)

	access, ok := f.store.AccessToken(ctx)
	require.True(t, ok)
	assert.Equal(t, pair.AccessToken, access)
	refresh, _ := f.store.RefreshToken(ctx)
	assert.Equal(t, pair.RefreshToken, refresh)

	assert.True(t, f.service.IsAuthenticated(ctx))
	assert.True(t, f.service.IsValidSession(ctx))
	require.NotNil(t, f.service.Profile())
	assert.Equal(t, fakeapi.DefaultUsername, f.service.Profile().Username)
	assert.Equal(t, f.service.Profile().ID, f.service.Session(ctx).Subject)
	f.nav.AssertNotCalled(t, "ToLogin", mock.Anything, mock.Anything)
}

func TestService_LoginRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Login(ctx, Credentials{Username: fakeapi.DefaultUsername, Password: "nope-nope"})

	rec, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, "INVALID_CREDENTIALS", rec.Status)
	assert.Equal(t, http.StatusUnauthorized, rec.StatusCode)
	assert.False(t, f.service.IsAuthenticated(ctx))
	f.nav.AssertNotCalled(t, "ToLogin", mock.Anything, mock.Anything)
}

func TestService_LoginValidatesLocally(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Login(context.Background(), Credentials{Username: "admin"})

	assert.Error(t, err)
	assert.Equal(t, 0, f.api.Calls(http.MethodPost, "/auth/login"))
}

func TestService_Refresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.service.Login(ctx, adminCredentials())
	require.NoError(t, err)

	f.api.ExpireAccessTokens()
	second, err := f.service.Refresh(ctx, first.AccessToken, first.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	access, _ := f.store.AccessToken(ctx)
	assert.Equal(t, second.AccessToken, access)
}

func TestService_RefreshFailureLeavesStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.service.Login(ctx, adminCredentials())
	require.NoError(t, err)

	err = f.service.RefreshCredentials(ctx, first.AccessToken, first.RefreshToken)

	assert.True(t, apierror.HasStatus(err, apierror.StatusAccessTokenStillValid))
	access, _ := f.store.AccessToken(ctx)
	assert.Equal(t, first.AccessToken, access)
}

func TestService_Logout(t *testing.T) {
	clearer := &countingClearer{}
	f := newFixture(t, WithClearers(clearer))
	ctx := context.Background()
	f.nav.On("ToLogin", mock.Anything, LogoutReason).Once()

	_, err := f.service.Login(ctx, adminCredentials())
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx))

	assert.False(t, f.service.IsAuthenticated(ctx))
	assert.Nil(t, f.service.Profile())
	assert.Equal(t, 1, clearer.n)
	assert.Equal(t, 1, f.api.Calls(http.MethodPost, "/auth/logout"))
	f.nav.AssertExpectations(t)
}

func TestService_LogoutWithUnreachableServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.nav.On("ToLogin", mock.Anything, LogoutReason).Once()

	_, err := f.service.Login(ctx, adminCredentials())
	require.NoError(t, err)
	f.api.Close()

	assert.NoError(t, f.service.Logout(ctx))
	assert.False(t, f.service.IsAuthenticated(ctx))
	f.nav.AssertExpectations(t)
}

func TestService_LoginAfterLogoutNavigatesAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.nav.On("ToLogin", mock.Anything, LogoutReason).Twice()

	for i := 0; i < 2; i++ {
		_, err := f.service.Login(ctx, adminCredentials())
		require.NoError(t, err)
		require.NoError(t, f.service.Logout(ctx))
	}
	f.nav.AssertExpectations(t)
}

func TestService_Register(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.service.Register(ctx, RegisterRequest{
		Username:    "new-operator",
		Password:    "long-enough-password",
		Email:       "operator@example.com",
		DisplayName: "New Operator",
	})
	require.NoError(t, err)
	assert.Equal(t, "new-operator", user.Username)
	assert.NotEmpty(t, user.ID)

	_, err = f.service.Login(ctx, Credentials{Username: "new-operator", Password: "long-enough-password"})
	require.NoError(t, err)

	_, err = f.service.Register(ctx, RegisterRequest{Username: "new-operator", Password: "long-enough-password"})
	assert.True(t, apierror.HasStatus(err, apierror.StatusAlreadyExists))

	_, err = f.service.Register(ctx, RegisterRequest{Username: "x", Password: "short"})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, client.ErrAbandoned))
}

func TestService_MeIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.Login(ctx, adminCredentials())
	require.NoError(t, err)

	// drop the profile captured at login so Me has to ask the server once
	f.service.mu.Lock()
	f.service.profile = nil
	f.service.mu.Unlock()

	for i := 0; i < 3; i++ {
		u, err := f.service.Me(ctx)
		require.NoError(t, err)
		assert.Equal(t, fakeapi.DefaultUsername, u.Username)
	}
	assert.Equal(t, 1, f.api.Calls(http.MethodGet, "/auth/me"))
}
