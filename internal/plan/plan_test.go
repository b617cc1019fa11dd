package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/repository"
	"github.com/coveworks/memberd/internal/testutil"
)

func setupCatalog(t *testing.T) (*Catalog, *gorm.DB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	repo := repository.NewMemberRepository(db)
	catalog := NewCatalog(testutil.TestConfig(), repo, nil)
	return catalog, db
}

func TestGetByName(t *testing.T) {
	catalog, _ := setupCatalog(t)

	p, err := catalog.GetByName("newfull")
	require.NoError(t, err)
	assert.Equal(t, "Standard", p.HumanName)
	assert.True(t, p.Selectable)

	// Historical capitalized spelling resolves to the same plan.
	hive, err := catalog.GetByName("hive")
	require.NoError(t, err)
	alias, err := catalog.GetByName("Hive")
	require.NoError(t, err)
	assert.Same(t, hive, alias)

	_, err = catalog.GetByName("platinum")
	assert.ErrorIs(t, err, ErrNoSuchPlan)
}

func TestLegacyPairSymmetric(t *testing.T) {
	catalog, _ := setupCatalog(t)

	full, err := catalog.GetByName("full")
	require.NoError(t, err)
	newfull, err := catalog.GetByName("newfull")
	require.NoError(t, err)

	assert.Same(t, newfull, catalog.LegacyPair(full))
	assert.Same(t, full, catalog.LegacyPair(newfull))

	supporter, err := catalog.GetByName("supporter")
	require.NoError(t, err)
	assert.Nil(t, catalog.LegacyPair(supporter))
}

func TestIsFullUncappedPlan(t *testing.T) {
	catalog, _ := setupCatalog(t)

	p, err := catalog.GetByName("newfull")
	require.NoError(t, err)
	full, err := catalog.IsFull(p)
	require.NoError(t, err)
	assert.False(t, full)
}

func TestIsFullCountsLegacyPairEqually(t *testing.T) {
	catalog, db := setupCatalog(t)

	// Test config caps the desk plans at 3. Two members on the modern plan
	// plus one on the legacy plan fills it, and both plans see the same
	// answer.
	testutil.TestMember(t, db, testutil.WithPlan("newhive"))
	testutil.TestMember(t, db, testutil.WithPlan("newhive"))
	testutil.TestMember(t, db, testutil.WithPlan("hive"))

	newhive, err := catalog.GetByName("newhive")
	require.NoError(t, err)
	hive, err := catalog.GetByName("hive")
	require.NoError(t, err)

	fullNew, err := catalog.IsFull(newhive)
	require.NoError(t, err)
	fullOld, err := catalog.IsFull(hive)
	require.NoError(t, err)

	assert.True(t, fullNew)
	assert.Equal(t, fullNew, fullOld)
}

func TestIsFullIgnoresStaleSuspended(t *testing.T) {
	catalog, db := setupCatalog(t)

	testutil.TestMember(t, db, testutil.WithPlan("newhive"))
	testutil.TestMember(t, db, testutil.WithPlan("newhive"))

	// A suspended member inside the grace window still holds a slot.
	recent := testutil.TestMember(t, db,
		testutil.WithPlan("newhive"), testutil.WithStatus(model.StatusSuspended))

	newhive, err := catalog.GetByName("newhive")
	require.NoError(t, err)

	full, err := catalog.IsFull(newhive)
	require.NoError(t, err)
	assert.True(t, full)

	// Aged past the grace window the slot is released.
	old := time.Now().AddDate(0, 0, -60)
	testutil.Backdate(t, db, recent, old, old)

	full, err = catalog.IsFull(newhive)
	require.NoError(t, err)
	assert.False(t, full)
}

func TestPlansToShowSplitsFullPlans(t *testing.T) {
	catalog, db := setupCatalog(t)

	for i := 0; i < 3; i++ {
		testutil.TestMember(t, db, testutil.WithPlan("newhive"))
	}

	selectable, unavailable, err := catalog.PlansToShow()
	require.NoError(t, err)

	names := func(plans []*Plan) []string {
		var out []string
		for _, p := range plans {
			out = append(out, p.Name)
		}
		return out
	}

	assert.Contains(t, names(unavailable), "newhive")
	assert.NotContains(t, names(selectable), "newhive")
	assert.Contains(t, names(selectable), "newfull")
	// Admin-only and legacy plans never show up.
	assert.NotContains(t, names(selectable), "full")
	assert.NotContains(t, names(selectable), "comped")
}

func TestCanSubscribe(t *testing.T) {
	catalog, db := setupCatalog(t)

	got, err := catalog.CanSubscribe("newfull")
	require.NoError(t, err)
	assert.Equal(t, Allowed, got)

	got, err = catalog.CanSubscribe("comped")
	require.NoError(t, err)
	assert.Equal(t, DeniedAdminOnly, got)

	got, err = catalog.CanSubscribe("nope")
	require.NoError(t, err)
	assert.Equal(t, Nonexistent, got)

	for i := 0; i < 3; i++ {
		testutil.TestMember(t, db, testutil.WithPlan("newhive"))
	}
	got, err = catalog.CanSubscribe("newhive")
	require.NoError(t, err)
	assert.Equal(t, DeniedFull, got)
}

func TestSigninsRemaining(t *testing.T) {
	catalog, db := setupCatalog(t)

	unlimited := testutil.TestMember(t, db, testutil.WithPlan("newfull"), testutil.WithSignins(500))
	remaining, err := catalog.SigninsRemaining(unlimited)
	require.NoError(t, err)
	assert.Nil(t, remaining)

	lite := testutil.TestMember(t, db, testutil.WithPlan("lite"), testutil.WithSignins(4))
	remaining, err = catalog.SigninsRemaining(lite)
	require.NoError(t, err)
	require.NotNil(t, remaining)
	assert.Equal(t, 6, *remaining)

	// Overdrawn counters floor at zero.
	over := testutil.TestMember(t, db, testutil.WithPlan("lite"), testutil.WithSignins(25))
	remaining, err = catalog.SigninsRemaining(over)
	require.NoError(t, err)
	require.NotNil(t, remaining)
	assert.Equal(t, 0, *remaining)
}

func TestPlanIDOverrides(t *testing.T) {
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	repo := repository.NewMemberRepository(db)
	catalog := NewCatalog(testutil.TestConfig(), repo, map[string]string{"newfull": "90001"})

	p, err := catalog.GetByName("newfull")
	require.NoError(t, err)
	assert.Equal(t, "90001", p.ID)

	other, err := catalog.GetByName("lite")
	require.NoError(t, err)
	assert.Equal(t, "25791", other.ID)
}
