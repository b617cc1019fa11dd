package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coveworks/memberd/internal/billing"
	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/repository"
	"github.com/coveworks/memberd/internal/secrets"
	"github.com/coveworks/memberd/internal/testutil"
	"github.com/coveworks/memberd/internal/tokens"
)

func setupMemberService(t *testing.T) (*MemberService, *gorm.DB, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	rdb, _ := testutil.SetupTestRedis(t)
	cfg := testutil.TestConfig()

	memberRepo := repository.NewMemberRepository(db)
	cache := tokens.NewCache(rdb)
	billingClient := billing.NewClient(&cfg.Billing, "test-key")

	store, err := secrets.NewStore(db, cfg.Secrets.MasterKey)
	require.NoError(t, err)
	require.NoError(t, store.Put(secrets.KeyMemberCSV, "csv-key"))

	service := NewMemberService(memberRepo, cache, billingClient, store, cfg)

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}
	return service, db, cleanup
}

func TestListActive_Pagination(t *testing.T) {
	service, db, cleanup := setupMemberService(t)
	defer cleanup()

	for i := 0; i < repository.PageSize+5; i++ {
		testutil.TestMember(t, db)
	}
	testutil.TestMember(t, db, testutil.WithStatus(model.StatusSuspended))

	page, err := service.ListActive("")
	require.NoError(t, err)
	assert.Len(t, page.Members, repository.PageSize)
	require.NotEmpty(t, page.NextPage)

	rest, err := service.ListActive(page.NextPage)
	require.NoError(t, err)
	assert.Len(t, rest.Members, 5)
	assert.Empty(t, rest.NextPage)
}

func TestTotalPages(t *testing.T) {
	service, db, cleanup := setupMemberService(t)
	defer cleanup()

	for i := 0; i < repository.PageSize+1; i++ {
		testutil.TestMember(t, db)
	}

	pages, err := service.TotalPages()
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
}

func TestUnsubscribe(t *testing.T) {
	service, db, cleanup := setupMemberService(t)
	defer cleanup()

	member := testutil.TestMember(t, db)

	assert.ErrorIs(t, service.Unsubscribe(member.ID, ""), ErrMissingReason)
	assert.ErrorIs(t, service.Unsubscribe(99999, "gone"), ErrMemberNotFound)

	require.NoError(t, service.Unsubscribe(member.ID, "moved to another city"))

	fresh, err := repository.NewMemberRepository(db).GetByID(member.ID)
	require.NoError(t, err)
	assert.Equal(t, "moved to another city", fresh.UnsubscribeReason)
}

func TestSuspendedNames(t *testing.T) {
	service, db, cleanup := setupMemberService(t)
	defer cleanup()

	suspended := testutil.TestMember(t, db,
		testutil.WithStatus(model.StatusSuspended),
		testutil.WithName("Gone", "Member"))
	testutil.TestMember(t, db)

	names, err := service.SuspendedNames()
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, [2]string{"Gone Member", suspended.Username}, names[0])
}

func TestBillingURL(t *testing.T) {
	service, db, cleanup := setupMemberService(t)
	defer cleanup()

	member := testutil.TestMember(t, db, testutil.WithProcessorToken("tok-abc"))

	url, err := service.BillingURLByID(member.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://subs.example.com/testspace/subscriber_accounts/tok-abc", url)

	byName, err := service.BillingURL(member.Username)
	require.NoError(t, err)
	assert.Equal(t, url, byName)

	_, err = service.BillingURL("no.such.user")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestChangePlan(t *testing.T) {
	service, db, cleanup := setupMemberService(t)
	defer cleanup()

	member := testutil.TestMember(t, db)
	require.NoError(t, service.ChangePlan(member.ID, "comped"))

	fresh, err := repository.NewMemberRepository(db).GetByID(member.ID)
	require.NoError(t, err)
	assert.Equal(t, "comped", fresh.Plan)
}

func TestUserProperties(t *testing.T) {
	service, db, cleanup := setupMemberService(t)
	defer cleanup()

	member := testutil.TestMember(t, db, testutil.WithPlan("lite"), testutil.WithSignins(4))

	values, err := service.UserProperties(member.Username, []string{"email", "plan", "signins"})
	require.NoError(t, err)
	assert.Equal(t, member.Email, values["email"])
	assert.Equal(t, "lite", values["plan"])
	assert.Equal(t, 4, values["signins"])
}

func TestUserProperties_UnknownProperty(t *testing.T) {
	service, db, cleanup := setupMemberService(t)
	defer cleanup()

	member := testutil.TestMember(t, db)

	_, err := service.UserProperties(member.Username, []string{"email", "password_hash"})
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = service.UserProperties("no.such.user", []string{"email"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestExportCSV(t *testing.T) {
	service, db, cleanup := setupMemberService(t)
	defer cleanup()

	member := testutil.TestMember(t, db)

	_, err := service.ExportCSV("wrong")
	assert.ErrorIs(t, err, ErrBadExportKey)

	data, err := service.ExportCSV("csv-key")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Contains(t, lines[0], "email")
	assert.Contains(t, string(data), member.Email)
}
