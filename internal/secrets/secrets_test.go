package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/testutil"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	store, err := NewStore(db, testutil.TestConfig().Secrets.MasterKey)
	require.NoError(t, err)
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := setupStore(t)

	require.NoError(t, store.Put(KeyGiftCode, "hunter2"))

	got, err := store.Get(KeyGiftCode)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	// Overwrite rotates in place.
	require.NoError(t, store.Put(KeyGiftCode, "hunter3"))
	got, err = store.Get(KeyGiftCode)
	require.NoError(t, err)
	assert.Equal(t, "hunter3", got)
}

func TestGetMissing(t *testing.T) {
	store := setupStore(t)

	_, err := store.Get("nope")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestValuesEncryptedAtRest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	store, err := NewStore(db, testutil.TestConfig().Secrets.MasterKey)
	require.NoError(t, err)
	require.NoError(t, store.Put(KeyProcessorAPI, "api-key-value"))

	var raw model.Secret
	require.NoError(t, db.Where("name = ?", KeyProcessorAPI).First(&raw).Error)
	assert.NotContains(t, string(raw.Value), "api-key-value")
}

func TestPlanIDs(t *testing.T) {
	store := setupStore(t)

	require.NoError(t, store.Put(KeyPlanIDsPrefix+"newfull", "90001"))
	require.NoError(t, store.Put(KeyPlanIDsPrefix+"lite", "90002"))
	require.NoError(t, store.Put(KeyMaglock, "unrelated"))

	ids, err := store.PlanIDs()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"newfull": "90001", "lite": "90002"}, ids)
}

func TestBadMasterKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	_, err := NewStore(db, "short")
	assert.Error(t, err)
}
