// Package gazetteer wraps the read-only taxon gazetteer database: a
// SQLite file with a `taxa` table and a `common_names` table, schema
// versioned via PRAGMA user_version.
package gazetteer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"

	"taxonfinder"
)

// SchemaVersion is the only gazetteer schema version this store accepts.
const SchemaVersion = 1

// recordCacheSize bounds the in-process LRU in front of GetFullRecord —
// repeated resolution of the same taxon ID (skip-resolution path,
// enrichment retries) is common within a single run.
const recordCacheSize = 2048

// NameMappings is the locale-scoped lookup built once at open time:
// normalized/lemmatized surface form -> matching taxon IDs, in row-insertion
// order.
type NameMappings struct {
	Normalized map[string][]int
	Lemmatized map[string][]int
}

// TaxonRecord is the full gazetteer row for one taxon, with preferred
// common names already resolved for a locale.
type TaxonRecord struct {
	TaxonID            int
	TaxonName          string
	TaxonRank          string
	Ancestry           string
	TaxonCommonNameEn  string
	TaxonCommonNameLoc string
}

type recordKey struct {
	taxonID int
	locale  string
}

// Store is a read-only handle onto the gazetteer SQLite file.
type Store struct {
	db     *sql.DB
	cache  *lru.Cache[recordKey, *TaxonRecord]
}

// Open opens the gazetteer at path and validates its schema version,
// returning a *taxonfinder.Error{Kind: SchemaMismatch} on mismatch.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("gazetteer: open: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("gazetteer: read schema version: %w", err)
	}
	if version != SchemaVersion {
		db.Close()
		return nil, taxonfinder.NewSchemaMismatch(
			fmt.Sprintf("gazetteer schema version mismatch: expected %d, got %d", SchemaVersion, version),
			nil,
		)
	}

	cache, err := lru.New[recordKey, *TaxonRecord](recordCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("gazetteer: build record cache: %w", err)
	}

	return &Store{db: db, cache: cache}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadNameMappings builds the normalized/lemmatized name-to-taxon-IDs maps
// for locale, preserving row insertion order within each taxon ID slice.
func (s *Store) LoadNameMappings(ctx context.Context, locale string) (NameMappings, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT taxon_id, name_normalized, name_lemmatized
		FROM common_names
		WHERE locale = ?
	`, locale)
	if err != nil {
		return NameMappings{}, fmt.Errorf("gazetteer: load name mappings: %w", err)
	}
	defer rows.Close()

	mappings := NameMappings{
		Normalized: make(map[string][]int),
		Lemmatized: make(map[string][]int),
	}
	for rows.Next() {
		var taxonID int
		var nameNormalized, nameLemmatized sql.NullString
		if err := rows.Scan(&taxonID, &nameNormalized, &nameLemmatized); err != nil {
			return NameMappings{}, fmt.Errorf("gazetteer: scan name mapping row: %w", err)
		}
		if nameNormalized.Valid && nameNormalized.String != "" {
			mappings.Normalized[nameNormalized.String] = append(mappings.Normalized[nameNormalized.String], taxonID)
		}
		if nameLemmatized.Valid && nameLemmatized.String != "" {
			mappings.Lemmatized[nameLemmatized.String] = append(mappings.Lemmatized[nameLemmatized.String], taxonID)
		}
	}
	return mappings, rows.Err()
}

// GetTaxonIDs returns the taxon IDs matching a normalized name in locale.
func (s *Store) GetTaxonIDs(ctx context.Context, nameNormalized, locale string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT taxon_id FROM common_names WHERE name_normalized = ? AND locale = ?
	`, nameNormalized, locale)
	if err != nil {
		return nil, fmt.Errorf("gazetteer: get taxon ids: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("gazetteer: scan taxon id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetFullRecord returns the full taxon record for taxonID, with preferred
// common names resolved for locale (falling back to "en"), or nil if the
// taxon does not exist. Results are cached per (taxonID, locale).
func (s *Store) GetFullRecord(ctx context.Context, taxonID int, locale string) (*TaxonRecord, error) {
	key := recordKey{taxonID: taxonID, locale: locale}
	if rec, ok := s.cache.Get(key); ok {
		return rec, nil
	}

	var taxonName, taxonRank string
	var ancestry sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT taxon_name, taxon_rank, ancestry FROM taxa WHERE taxon_id = ?
	`, taxonID)
	if err := row.Scan(&taxonName, &taxonRank, &ancestry); err != nil {
		if err == sql.ErrNoRows {
			s.cache.Add(key, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("gazetteer: get full record: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, locale, is_preferred FROM common_names
		WHERE taxon_id = ? AND locale IN (?, 'en')
	`, taxonID, locale)
	if err != nil {
		return nil, fmt.Errorf("gazetteer: load common names: %w", err)
	}
	defer rows.Close()

	var names []commonNameRow
	for rows.Next() {
		var nr commonNameRow
		var isPreferred int
		if err := rows.Scan(&nr.name, &nr.locale, &isPreferred); err != nil {
			return nil, fmt.Errorf("gazetteer: scan common name: %w", err)
		}
		nr.isPreferred = isPreferred != 0
		names = append(names, nr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rec := &TaxonRecord{
		TaxonID:            taxonID,
		TaxonName:          taxonName,
		TaxonRank:          taxonRank,
		Ancestry:           ancestry.String,
		TaxonCommonNameEn:  preferredName(names, "en"),
		TaxonCommonNameLoc: preferredName(names, locale),
	}
	s.cache.Add(key, rec)
	return rec, nil
}

type commonNameRow struct {
	name        string
	locale      string
	isPreferred bool
}

func preferredName(rows []commonNameRow, locale string) string {
	var preferred, fallback string
	for _, row := range rows {
		if row.locale != locale {
			continue
		}
		if row.isPreferred {
			preferred = row.name
			break
		}
		if fallback == "" {
			fallback = row.name
		}
	}
	if preferred != "" {
		return preferred
	}
	return fallback
}

// AllTaxonNames returns every taxon_name in the gazetteer, lowercased, for
// use as the Latin extractor's is_known_name predicate.
func (s *Store) AllTaxonNames(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT taxon_name FROM taxa`)
	if err != nil {
		return nil, fmt.Errorf("gazetteer: load taxon names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("gazetteer: scan taxon name: %w", err)
		}
		names[strings.ToLower(name)] = true
	}
	return names, rows.Err()
}
