package admin

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/adminconsole/internal/apierror"
	"github.com/erp/adminconsole/internal/auth"
	"github.com/erp/adminconsole/internal/client"
	"github.com/erp/adminconsole/internal/credential"
	"github.com/erp/adminconsole/internal/pagecache"
	"github.com/erp/adminconsole/internal/session"
	"github.com/erp/adminconsole/internal/testutil/fakeapi"
)

func newConsole(t *testing.T, seed, pageSize int) (*Console, *fakeapi.Server) {
	t.Helper()
	api := fakeapi.New(t, fakeapi.WithSeed(seed))
	store := credential.NewStore(nil)
	term := session.NewTerminator(store, nil)

	c, err := client.New(client.Config{BaseURL: api.URL()}, store, term)
	require.NoError(t, err)
	svc := auth.NewService(c, store, term)
	_, err = svc.Login(context.Background(), auth.Credentials{
		Username: fakeapi.DefaultUsername,
		Password: fakeapi.DefaultPassword,
	})
	require.NoError(t, err)

	return NewConsole(c, WithPageSize(pageSize)), api
}

func TestResource_ListIsCached(t *testing.T) {
	con, api := newConsole(t, 7, 3)
	ctx := context.Background()

	tutors, err := con.Tutors.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, tutors, 3)
	assert.Equal(t, int64(7), con.Tutors.View().Total())
	assert.Equal(t, 3, con.Tutors.View().TotalPages())
	assert.False(t, tutors[0].HourlyRate.IsZero())

	last, err := con.Tutors.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, last, 1)

	_, err = con.Tutors.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, api.Calls(http.MethodGet, "/tutors"))
}

func TestResource_CreateAppendsToPartialPage(t *testing.T) {
	con, api := newConsole(t, 4, 3)
	ctx := context.Background()

	_, err := con.GroupConfigs.List(ctx, 1)
	require.NoError(t, err)

	created, err := con.GroupConfigs.Create(ctx, GroupConfig{
		Name:        "Saturday robotics",
		MaxStudents: 12,
		MonthlyFee:  decimal.RequireFromString("149.90"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.MonthlyFee.Equal(decimal.RequireFromString("149.90")))

	page, err := con.GroupConfigs.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, created.ID, page[1].ID)
	assert.Equal(t, int64(5), con.GroupConfigs.View().Total())
	assert.Equal(t, 1, api.Calls(http.MethodGet, "/group-configs"))
}

func TestResource_CreateOnFullPageClears(t *testing.T) {
	con, api := newConsole(t, 3, 3)
	ctx := context.Background()

	_, err := con.Students.List(ctx, 0)
	require.NoError(t, err)

	_, err = con.Students.Create(ctx, Student{Name: "Grace Hopper", Email: "grace@example.com"})
	require.NoError(t, err)

	_, ok := con.Students.View().Cache().Get(0)
	assert.False(t, ok)

	_, err = con.Students.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, api.Calls(http.MethodGet, "/students"))
}

func TestResource_UpdateRewritesShownPage(t *testing.T) {
	con, api := newConsole(t, 3, 3)
	ctx := context.Background()

	tutors, err := con.Tutors.List(ctx, 0)
	require.NoError(t, err)

	target := tutors[1]
	target.HourlyRate = decimal.RequireFromString("88.25")
	updated, err := con.Tutors.Update(ctx, target.ID, target)
	require.NoError(t, err)
	assert.True(t, updated.HourlyRate.Equal(target.HourlyRate))

	page, err := con.Tutors.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, tutors[0].ID, page[0].ID)
	assert.True(t, page[1].HourlyRate.Equal(decimal.RequireFromString("88.25")))
	assert.Equal(t, tutors[2].ID, page[2].ID)
	assert.Equal(t, 1, api.Calls(http.MethodGet, "/tutors"))
}

func TestResource_DeleteEvictsShownPage(t *testing.T) {
	con, api := newConsole(t, 3, 3)
	ctx := context.Background()

	users, err := con.Users.List(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, con.Users.Delete(ctx, users[1].ID))
	assert.Equal(t, int64(2), con.Users.View().Total())

	page, err := con.Users.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, 2, api.Calls(http.MethodGet, "/users"))
}

func TestResource_LocalValidation(t *testing.T) {
	con, api := newConsole(t, 0, 3)
	ctx := context.Background()

	_, err := con.GroupConfigs.Create(ctx, GroupConfig{Name: "Debt club", MonthlyFee: decimal.NewFromInt(-5)})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = con.Tutors.Create(ctx, Tutor{Name: "No Email"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = con.Users.Create(ctx, User{Username: "ok-user", Role: "superuser"})
	assert.ErrorIs(t, err, ErrInvalid)

	assert.Equal(t, 0, api.Calls(http.MethodPost, "/group-configs"))
	assert.Equal(t, 0, api.Calls(http.MethodPost, "/tutors"))
}

func TestResource_DomainErrors(t *testing.T) {
	con, _ := newConsole(t, 1, 3)
	ctx := context.Background()

	_, err := con.Students.Get(ctx, "missing")
	assert.True(t, apierror.HasStatus(err, apierror.StatusNotFound))

	students, err := con.Students.List(ctx, 0)
	require.NoError(t, err)
	_, err = con.Students.Create(ctx, Student{Name: "Copy", Email: students[0].Email})
	assert.True(t, apierror.HasStatus(err, apierror.StatusAlreadyExists))
}

func TestResource_SurvivesExpiredCredential(t *testing.T) {
	con, api := newConsole(t, 5, 2)
	ctx := context.Background()

	api.ExpireAccessTokens()
	page, err := con.Tutors.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, 1, api.RefreshCalls())
	assert.Equal(t, pagecache.Success, con.Tutors.View().State())
}

func TestConsole_Lookup(t *testing.T) {
	con, _ := newConsole(t, 2, 5)
	ctx := context.Background()

	assert.Equal(t, []string{"group-configs", "students", "tutors", "users"}, con.Names())
	_, err := con.Lookup("invoices")
	assert.Error(t, err)

	coll, err := con.Lookup(GroupConfigsResource)
	require.NoError(t, err)

	out, err := coll.CreateJSON(ctx, []byte(`{"name":"Night owls","max_students":6,"monthly_fee":"75.00"}`))
	require.NoError(t, err)
	created := out.(*GroupConfig)

	out, err = coll.UpdateJSON(ctx, created.ID, []byte(`{"schedule":"FRI"}`))
	require.NoError(t, err)
	updated := out.(*GroupConfig)
	assert.Equal(t, "Night owls", updated.Name)
	assert.Equal(t, "FRI", updated.Schedule)
	assert.True(t, updated.MonthlyFee.Equal(decimal.NewFromInt(75)))

	list, err := coll.ListAny(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list.([]GroupConfig), 3)
	assert.Equal(t, Paging{Page: 0, PageSize: 5, Total: 3, TotalPages: 1}, coll.Paging())

	con.Clear()
	_, ok := con.GroupConfigs.View().Cache().Get(0)
	assert.False(t, ok)
}
