package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/testutil"
)

func setupMemberRepo(t *testing.T) (*MemberRepository, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	return NewMemberRepository(db), db
}

func TestMemberLookups(t *testing.T) {
	repo, db := setupMemberRepo(t)

	m := testutil.TestMember(t, db,
		testutil.WithEmail("Ada@Example.com"),
		testutil.WithUsername("ada.lovelace"),
		testutil.WithRFIDTag("tag-123"))

	byEmail, err := repo.GetByEmail("  ada@example.com ")
	require.NoError(t, err)
	assert.Equal(t, m.ID, byEmail.ID)

	byHash, err := repo.GetByHash(m.Hash)
	require.NoError(t, err)
	assert.Equal(t, m.ID, byHash.ID)

	byUsername, err := repo.GetByUsername("ada.lovelace")
	require.NoError(t, err)
	assert.Equal(t, m.ID, byUsername.ID)

	byTag, err := repo.GetByRFIDTag("tag-123")
	require.NoError(t, err)
	assert.Equal(t, m.ID, byTag.ID)

	_, err = repo.GetByEmail("nobody@example.com")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUpdateColumnsQuietKeepsTimestamp(t *testing.T) {
	repo, db := setupMemberRepo(t)

	m := testutil.TestMember(t, db)
	before := time.Now().AddDate(0, 0, -10)
	testutil.Backdate(t, db, m, before, before)

	require.NoError(t, repo.UpdateColumnsQuiet(m.ID, map[string]interface{}{"signins": 7}))

	got, err := repo.GetByID(m.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Signins)
	assert.WithinDuration(t, before, got.Updated, time.Second)

	// The hooked variant does bump the timestamp.
	require.NoError(t, repo.UpdateFields(m.ID, map[string]interface{}{"signins": 8}))
	got, err = repo.GetByID(m.ID)
	require.NoError(t, err)
	assert.True(t, got.Updated.After(before.Add(time.Hour)))
}

func TestCapacityCounts(t *testing.T) {
	repo, db := setupMemberRepo(t)

	testutil.TestMember(t, db, testutil.WithPlan("newhive"))
	testutil.TestMember(t, db, testutil.WithPlan("hive"))
	suspended := testutil.TestMember(t, db,
		testutil.WithPlan("newhive"), testutil.WithStatus(model.StatusSuspended))
	// Active members never age out of the count.
	oldActive := testutil.TestMember(t, db, testutil.WithPlan("newhive"))
	long := time.Now().AddDate(-1, 0, 0)
	testutil.Backdate(t, db, oldActive, long, long)

	plans := []string{"newhive", "hive"}

	active, err := repo.CountActiveOnPlans(plans)
	require.NoError(t, err)
	assert.Equal(t, int64(3), active)

	cutoff := time.Now().AddDate(0, 0, -30)
	pending, err := repo.CountPendingOnPlans(plans, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	// Aging the suspended member past the cutoff releases the slot.
	testutil.Backdate(t, db, suspended, long, long)
	pending, err = repo.CountPendingOnPlans(plans, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestListActivePagination(t *testing.T) {
	repo, db := setupMemberRepo(t)

	for i := 0; i < 50; i++ {
		testutil.TestMember(t, db, testutil.WithName("Page", fmt.Sprintf("Member%03d", i)))
	}
	// Suspended members never appear in the active listing.
	testutil.TestMember(t, db, testutil.WithStatus(model.StatusSuspended))

	first, cursor, err := repo.ListActive("")
	require.NoError(t, err)
	assert.Len(t, first, PageSize)
	require.NotEmpty(t, cursor)

	second, cursor, err := repo.ListActive(cursor)
	require.NoError(t, err)
	assert.Len(t, second, PageSize)
	assert.Empty(t, cursor)

	// Ordered by last name across the page boundary, no overlap.
	assert.True(t, first[PageSize-1].LastName < second[0].LastName)

	seen := make(map[int64]bool)
	for _, m := range append(first, second...) {
		assert.False(t, seen[m.ID])
		seen[m.ID] = true
	}
}

func TestListActiveRejectsBadCursor(t *testing.T) {
	repo, _ := setupMemberRepo(t)

	_, _, err := repo.ListActive("not-base64!")
	assert.Error(t, err)
}

func TestListSuspendedOrder(t *testing.T) {
	repo, db := setupMemberRepo(t)

	older := testutil.TestMember(t, db, testutil.WithStatus(model.StatusSuspended))
	testutil.Backdate(t, db, older, time.Now().AddDate(0, 0, -5), time.Now().AddDate(0, 0, -5))
	newer := testutil.TestMember(t, db, testutil.WithStatus(model.StatusSuspended))

	members, _, err := repo.ListSuspended("")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, newer.ID, members[0].ID)
	assert.Equal(t, older.ID, members[1].ID)
}

func TestListUsernames(t *testing.T) {
	repo, db := setupMemberRepo(t)

	testutil.TestMember(t, db, testutil.WithUsername("zed"))
	testutil.TestMember(t, db, testutil.WithUsername("amy"))
	testutil.TestMember(t, db, testutil.WithUsername("mia"), testutil.WithStatus(model.StatusSuspended))
	testutil.TestMember(t, db, testutil.WithUsername(""))

	usernames, err := repo.ListUsernames()
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "zed"}, usernames)
}

func TestListNeverActivated(t *testing.T) {
	repo, db := setupMemberRepo(t)

	fresh := testutil.TestMember(t, db, testutil.WithStatus(""))
	stale := testutil.TestMember(t, db, testutil.WithStatus(""))
	testutil.Backdate(t, db, stale, time.Now().AddDate(0, 0, -2), time.Now().AddDate(0, 0, -2))
	testutil.TestMember(t, db)

	members, err := repo.ListNeverActivated(time.Now().AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, stale.ID, members[0].ID)
	assert.NotEqual(t, fresh.ID, members[0].ID)
}

func TestResetAllSignins(t *testing.T) {
	repo, db := setupMemberRepo(t)

	m := testutil.TestMember(t, db, testutil.WithSignins(9))
	before := time.Now().AddDate(0, 0, -10)
	testutil.Backdate(t, db, m, before, before)

	require.NoError(t, repo.ResetAllSignins())

	got, err := repo.GetByID(m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Signins)
	// Counter resets must not look like membership state changes.
	assert.WithinDuration(t, before, got.Updated, time.Second)
}
