package gazetteer_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"taxonfinder/gazetteer"
)

func newTestGazetteer(t *testing.T) *gazetteer.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gazetteer.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE taxa (
			taxon_id INTEGER PRIMARY KEY,
			taxon_name TEXT NOT NULL,
			taxon_rank TEXT NOT NULL,
			ancestry TEXT
		);
		CREATE TABLE common_names (
			taxon_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			name_normalized TEXT,
			name_lemmatized TEXT,
			locale TEXT NOT NULL,
			is_preferred INTEGER NOT NULL DEFAULT 0,
			lexicon TEXT
		);
		INSERT INTO taxa VALUES (54586, 'Tilia', 'genus', '1/2/3');
		INSERT INTO common_names VALUES (54586, 'липа', 'липа', 'липа', 'ru', 1, NULL);
		INSERT INTO common_names VALUES (54586, 'linden', 'linden', 'linden', 'en', 1, NULL);
		PRAGMA user_version = 1;
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := gazetteer.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_LoadNameMappings(t *testing.T) {
	store := newTestGazetteer(t)
	mappings, err := store.LoadNameMappings(context.Background(), "ru")
	require.NoError(t, err)
	require.Equal(t, []int{54586}, mappings.Normalized["липа"])
	require.Equal(t, []int{54586}, mappings.Lemmatized["липа"])
}

func TestStore_GetFullRecord(t *testing.T) {
	store := newTestGazetteer(t)
	rec, err := store.GetFullRecord(context.Background(), 54586, "ru")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "Tilia", rec.TaxonName)
	require.Equal(t, "genus", rec.TaxonRank)
	require.Equal(t, "липа", rec.TaxonCommonNameLoc)
	require.Equal(t, "linden", rec.TaxonCommonNameEn)
}

func TestStore_GetFullRecord_Missing(t *testing.T) {
	store := newTestGazetteer(t)
	rec, err := store.GetFullRecord(context.Background(), 999, "ru")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestOpen_SchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`PRAGMA user_version = 7;`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = gazetteer.Open(path)
	require.Error(t, err)
}
