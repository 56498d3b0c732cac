// Package store owns the single SQLite database backing one repository
// index: file and span registries, enrichments, per-profile vector
// tables, full-text search, the code entity/relation graph, the
// cross-process work queue, and the anti-stomp lease table. Every
// other package reaches the database only through a *Store.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// File represents a row in the files table.
type File struct {
	ID           int64
	RepoRoot     string
	RelativePath string
	ContentHash  string
	ContentType  string
	Language     string
	SidecarPath  string
	Mtime        time.Time
	CreatedAt    string
	UpdatedAt    string
}

// Span represents a contiguous, hash-identified slice of a file.
type Span struct {
	ID          int64
	FileID      int64
	StartLine   int
	EndLine     int
	Symbol      string
	ContentType string
	Language    string
	RawText     string
	SpanHash    string
	CreatedAt   string

	// RelativePath and FileMTime are carried along from the owning
	// file row by queries that need them for scheduling (the path-
	// weight lookup matches against RelativePath); zero-valued on
	// queries that don't join files.
	RelativePath string
	FileMTime    time.Time
}

// Enrichment represents the current enrichment record for a span.
type Enrichment struct {
	SpanID     int64
	Summary    string
	Model      string
	Chain      string
	Backend    string
	Attempts   int
	DurationMS int64
	CreatedAt  string
}

// EnrichmentFailure tracks the failure cooldown state for a span.
type EnrichmentFailure struct {
	SpanID        int64
	Attempts      int
	LastError     string
	LastAttemptAt time.Time
}

// GraphEntity represents a row in graph_entities.
type GraphEntity struct {
	ID         int64
	FileID     int64
	SpanID     sql.NullInt64
	Name       string
	EntityType string
	Language   string
	Metadata   string
}

// GraphRelation represents a row in graph_relations.
type GraphRelation struct {
	ID             int64
	SourceEntityID int64
	TargetEntityID int64
	RelationType   string
	Weight         float64
	Metadata       string
}

// RetrievalResult holds a span with its retrieval score and file info.
type RetrievalResult struct {
	SpanID   int64
	FileID   int64
	RawText  string
	Symbol   string
	RepoRoot string
	Path     string
	Score    float64
}

// Store wraps the SQLite database for a single repository index.
type Store struct {
	db                *sql.DB
	embeddingProfiles map[string]int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the core schema. Embedding profile tables are created
// lazily via EnsureEmbeddingProfile once the backend router is known.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// A single writer per database file; SQLite itself will serialize
	// at the file-lock level, but capping the pool keeps busy-retry
	// behavior predictable under the guard in txguard.go.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingProfiles: make(map[string]int)}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for components that need raw
// access (the transaction guard and the work queue).
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureEmbeddingProfile creates the vec0 virtual table for an
// embedding profile if it does not already exist. Safe to call
// repeatedly; dimension mismatches against an existing table surface
// as a SQLite error from the underlying CREATE VIRTUAL TABLE.
func (s *Store) EnsureEmbeddingProfile(ctx context.Context, profile string, dim int) error {
	if _, err := s.db.ExecContext(ctx, embeddingSchemaSQL(profile, dim)); err != nil {
		return fmt.Errorf("ensuring embedding profile %q: %w", profile, err)
	}
	s.embeddingProfiles[profile] = dim
	return nil
}

// --- File operations ---

// UpsertFile inserts or updates a file record, returning its ID.
func (s *Store) UpsertFile(ctx context.Context, f File) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO files (repo_root, relative_path, content_hash, content_type, language, sidecar_path, mtime)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_root, relative_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			content_type = excluded.content_type,
			language = excluded.language,
			sidecar_path = excluded.sidecar_path,
			mtime = excluded.mtime,
			updated_at = CURRENT_TIMESTAMP
	`, f.RepoRoot, f.RelativePath, f.ContentHash, f.ContentType, f.Language, f.SidecarPath, f.Mtime)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		row := s.db.QueryRowContext(ctx,
			"SELECT id FROM files WHERE repo_root = ? AND relative_path = ?", f.RepoRoot, f.RelativePath)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetFileByPath retrieves a file by repo root and relative path.
func (s *Store) GetFileByPath(ctx context.Context, repoRoot, relativePath string) (*File, error) {
	f := &File{}
	var language, sidecar sql.NullString
	var mtime sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, repo_root, relative_path, content_hash, content_type, language, sidecar_path, mtime, created_at, updated_at
		FROM files WHERE repo_root = ? AND relative_path = ?
	`, repoRoot, relativePath).Scan(&f.ID, &f.RepoRoot, &f.RelativePath, &f.ContentHash,
		&f.ContentType, &language, &sidecar, &mtime, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.Language = language.String
	f.SidecarPath = sidecar.String
	f.Mtime = mtime.Time
	return f, nil
}

// ListFiles returns all files under a repo root.
func (s *Store) ListFiles(ctx context.Context, repoRoot string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_root, relative_path, content_hash, content_type, language, sidecar_path, mtime, created_at, updated_at
		FROM files WHERE repo_root = ? ORDER BY relative_path
	`, repoRoot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		var language, sidecar sql.NullString
		var mtime sql.NullTime
		if err := rows.Scan(&f.ID, &f.RepoRoot, &f.RelativePath, &f.ContentHash,
			&f.ContentType, &language, &sidecar, &mtime, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.Language = language.String
		f.SidecarPath = sidecar.String
		f.Mtime = mtime.Time
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes a file and cascades to its spans (with their
// enrichments and queue entries) and graph entities. Rows in the
// per-profile embedding tables are not removed.
func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id)
		return err
	})
}

// --- Span reconciliation ---

// ReplaceSpans reconciles the stored spans for a file against a freshly
// parsed set, keyed by span_hash. Matching hashes are left untouched
// (their enrichment survives); spans absent from the new set are
// deleted (cascading to enrichments/queue rows; embedding rows are
// left in place); spans
// present in the new set but absent from the old one are inserted.
// This is a differential update, not a delete-all-then-reinsert, so an
// unrelated edit elsewhere in the file does not invalidate enrichments
// for spans whose content did not change.
func (s *Store) ReplaceSpans(ctx context.Context, fileID int64, fresh []Span) ([]int64, error) {
	ids := make([]int64, len(fresh))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing := make(map[string]int64)
		rows, err := tx.QueryContext(ctx, "SELECT id, span_hash FROM spans WHERE file_id = ?", fileID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int64
			var hash string
			if err := rows.Scan(&id, &hash); err != nil {
				rows.Close()
				return err
			}
			existing[hash] = id
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		freshHashes := make(map[string]bool, len(fresh))
		for _, sp := range fresh {
			freshHashes[sp.SpanHash] = true
		}

		for hash, id := range existing {
			if !freshHashes[hash] {
				if _, err := tx.ExecContext(ctx, "DELETE FROM spans WHERE id = ?", id); err != nil {
					return err
				}
			}
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO spans (file_id, start_line, end_line, symbol, content_type, language, raw_text, span_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, sp := range fresh {
			if id, ok := existing[sp.SpanHash]; ok {
				// Unchanged content but line numbers may have shifted
				// (code moved without being edited); keep the span row
				// and its enrichment, just refresh position metadata.
				if _, err := tx.ExecContext(ctx,
					"UPDATE spans SET start_line = ?, end_line = ?, symbol = ? WHERE id = ?",
					sp.StartLine, sp.EndLine, sp.Symbol, id); err != nil {
					return err
				}
				ids[i] = id
				continue
			}

			res, err := stmt.ExecContext(ctx, fileID, sp.StartLine, sp.EndLine, sp.Symbol,
				sp.ContentType, sp.Language, sp.RawText, sp.SpanHash)
			if err != nil {
				return err
			}
			ids[i], err = res.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})

	return ids, err
}

// GetSpansByFile returns all spans for a file ordered by position.
func (s *Store) GetSpansByFile(ctx context.Context, fileID int64) ([]Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, start_line, end_line, COALESCE(symbol, ''), content_type, COALESCE(language, ''), raw_text, span_hash, created_at
		FROM spans WHERE file_id = ? ORDER BY start_line
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var sp Span
		if err := rows.Scan(&sp.ID, &sp.FileID, &sp.StartLine, &sp.EndLine, &sp.Symbol,
			&sp.ContentType, &sp.Language, &sp.RawText, &sp.SpanHash, &sp.CreatedAt); err != nil {
			return nil, err
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// SpanHash computes the canonical content hash for a span body. Kept
// in one place so reconciliation and the enrichment pipeline always
// agree on identity.
func SpanHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// --- Embedding operations ---

// InsertEmbedding stores a vector embedding for a span under a profile.
func (s *Store) InsertEmbedding(ctx context.Context, profile string, spanID int64, embedding []float32) error {
	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (span_id, embedding) VALUES (?, ?)", embeddingTableName(profile))
	_, err := s.db.ExecContext(ctx, query, spanID, serializeFloat32(embedding))
	return err
}

// VectorSearch performs a KNN search against a profile's embedding table.
func (s *Store) VectorSearch(ctx context.Context, profile string, queryEmbedding []float32, k int) ([]RetrievalResult, error) {
	query := fmt.Sprintf(`
		SELECT v.span_id, v.distance, sp.raw_text, COALESCE(sp.symbol, ''), f.repo_root, f.relative_path
		FROM %s v
		JOIN spans sp ON sp.id = v.span_id
		JOIN files f ON f.id = sp.file_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, embeddingTableName(profile))

	rows, err := s.db.QueryContext(ctx, query, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var distance float64
		if err := rows.Scan(&r.SpanID, &distance, &r.RawText, &r.Symbol, &r.RepoRoot, &r.Path); err != nil {
			return nil, err
		}
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// FTSSearch performs a full-text search using FTS5 BM25 ranking.
func (s *Store) FTSSearch(ctx context.Context, query string, limit int) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sp.id, sp.raw_text, COALESCE(sp.symbol, ''), f.repo_root, f.relative_path, fts.rank
		FROM spans_fts fts
		JOIN spans sp ON sp.id = fts.rowid
		JOIN files f ON f.id = sp.file_id
		WHERE spans_fts MATCH ?
		ORDER BY fts.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var rank float64
		if err := rows.Scan(&r.SpanID, &r.RawText, &r.Symbol, &r.RepoRoot, &r.Path, &rank); err != nil {
			return nil, err
		}
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Enrichment operations ---

// UpsertEnrichment records the current enrichment for a span and clears
// any failure cooldown state for it.
func (s *Store) UpsertEnrichment(ctx context.Context, e Enrichment) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO enrichments (span_id, summary, model, chain, backend, attempts, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(span_id) DO UPDATE SET
				summary = excluded.summary,
				model = excluded.model,
				chain = excluded.chain,
				backend = excluded.backend,
				attempts = excluded.attempts,
				duration_ms = excluded.duration_ms,
				created_at = CURRENT_TIMESTAMP
		`, e.SpanID, e.Summary, e.Model, e.Chain, e.Backend, e.Attempts, e.DurationMS); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM enrichment_failures WHERE span_id = ?", e.SpanID)
		return err
	})
}

// GetEnrichment returns the enrichment record for a span, if any.
func (s *Store) GetEnrichment(ctx context.Context, spanID int64) (*Enrichment, error) {
	e := &Enrichment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT span_id, summary, model, chain, backend, attempts, duration_ms, created_at
		FROM enrichments WHERE span_id = ?
	`, spanID).Scan(&e.SpanID, &e.Summary, &e.Model, &e.Chain, &e.Backend, &e.Attempts, &e.DurationMS, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// RecordEnrichmentFailure increments the failure counter for a span and
// stamps the attempt time, used by enrich/ to drive cooldown backoff.
func (s *Store) RecordEnrichmentFailure(ctx context.Context, spanID int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_failures (span_id, attempts, last_error, last_attempt_at)
		VALUES (?, 1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(span_id) DO UPDATE SET
			attempts = enrichment_failures.attempts + 1,
			last_error = excluded.last_error,
			last_attempt_at = CURRENT_TIMESTAMP
	`, spanID, errMsg)
	return err
}

// GetEnrichmentFailure returns the failure cooldown state for a span.
func (s *Store) GetEnrichmentFailure(ctx context.Context, spanID int64) (*EnrichmentFailure, error) {
	f := &EnrichmentFailure{}
	var lastAttempt sql.NullTime
	var lastError sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT span_id, attempts, last_error, last_attempt_at FROM enrichment_failures WHERE span_id = ?",
		spanID).Scan(&f.SpanID, &f.Attempts, &lastError, &lastAttempt)
	if err != nil {
		return nil, err
	}
	f.LastError = lastError.String
	f.LastAttemptAt = lastAttempt.Time
	return f, nil
}

// SampleSpansNeedingEnrichment returns up to n spans under repoRoot that
// either have never been enriched or have had their content change
// since the last enrichment, chosen by random sample so that a single
// hot file cannot starve the rest of the repo under round-robin
// selection. contentType restricts the sample to a single scheduler
// class ("code", "prose", ...); an empty string samples across all
// classes so the scheduler can score and interleave them itself.
//
// A span with no failure record, or one that has failed fewer than
// maxFailuresPerSpan times, is always eligible regardless of
// cooldownUntil — the cooldown only gates a span that has already hit
// the failure threshold, holding it back until cooldownUntil passes.
func (s *Store) SampleSpansNeedingEnrichment(ctx context.Context, repoRoot string, n int, cooldownUntil time.Time, maxFailuresPerSpan int, contentType string) ([]Span, error) {
	query := `
		SELECT sp.id, sp.file_id, sp.start_line, sp.end_line, COALESCE(sp.symbol, ''),
			sp.content_type, COALESCE(sp.language, ''), sp.raw_text, sp.span_hash, sp.created_at,
			f.relative_path, f.mtime
		FROM spans sp
		JOIN files f ON f.id = sp.file_id
		LEFT JOIN enrichments en ON en.span_id = sp.id
		LEFT JOIN enrichment_failures ef ON ef.span_id = sp.id
		WHERE f.repo_root = ?
			AND en.span_id IS NULL
			AND (
				ef.span_id IS NULL
				OR ef.attempts < ?
				OR ef.last_attempt_at < ?
			)`
	args := []interface{}{repoRoot, maxFailuresPerSpan, cooldownUntil}
	if contentType != "" {
		query += " AND sp.content_type = ?"
		args = append(args, contentType)
	}
	query += " ORDER BY RANDOM() LIMIT ?"
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var mtime sql.NullTime
		var sp Span
		if err := rows.Scan(&sp.ID, &sp.FileID, &sp.StartLine, &sp.EndLine, &sp.Symbol,
			&sp.ContentType, &sp.Language, &sp.RawText, &sp.SpanHash, &sp.CreatedAt,
			&sp.RelativePath, &mtime); err != nil {
			return nil, err
		}
		sp.FileMTime = mtime.Time
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// SampleFiles returns n files from repoRoot chosen at random, for
// opportunistic documentation candidate selection.
func (s *Store) SampleFiles(ctx context.Context, repoRoot string, n int) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_root, relative_path, content_hash, content_type,
			language, sidecar_path, mtime, created_at, updated_at
		FROM files
		WHERE repo_root = ?
		ORDER BY RANDOM() LIMIT ?`, repoRoot, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		var language, sidecar sql.NullString
		var mtime sql.NullTime
		if err := rows.Scan(&f.ID, &f.RepoRoot, &f.RelativePath, &f.ContentHash, &f.ContentType,
			&language, &sidecar, &mtime, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.Language = language.String
		f.SidecarPath = sidecar.String
		f.Mtime = mtime.Time
		files = append(files, f)
	}
	return files, rows.Err()
}

// --- Graph operations ---

// UpsertGraphEntity inserts or updates a code entity.
func (s *Store) UpsertGraphEntity(ctx context.Context, e GraphEntity) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_entities (file_id, span_id, name, entity_type, language, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id, name, entity_type) DO UPDATE SET
			span_id = excluded.span_id,
			language = excluded.language,
			metadata = excluded.metadata
	`, e.FileID, e.SpanID, e.Name, e.EntityType, e.Language, e.Metadata)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		row := s.db.QueryRowContext(ctx,
			"SELECT id FROM graph_entities WHERE file_id = ? AND name = ? AND entity_type = ?",
			e.FileID, e.Name, e.EntityType)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// InsertGraphRelation creates a relation between two code entities.
func (s *Store) InsertGraphRelation(ctx context.Context, r GraphRelation) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_relations (source_entity_id, target_entity_id, relation_type, weight, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, r.SourceEntityID, r.TargetEntityID, r.RelationType, r.Weight, r.Metadata)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SearchEntitiesByName finds entities whose name contains any of the
// given substrings, mirroring the graph search matching used by
// hybrid retrieval.
func (s *Store) SearchEntitiesByName(ctx context.Context, terms []string, limit int) ([]GraphEntity, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit == 0 {
		limit = 50
	}

	var conditions []string
	var args []interface{}
	for _, t := range terms {
		if len(t) < 2 {
			continue
		}
		conditions = append(conditions, "name LIKE ?")
		args = append(args, "%"+t+"%")
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	query := "SELECT id, file_id, span_id, name, entity_type, COALESCE(language, ''), metadata FROM graph_entities WHERE " +
		strings.Join(conditions, " OR ") + " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []GraphEntity
	for rows.Next() {
		var e GraphEntity
		if err := rows.Scan(&e.ID, &e.FileID, &e.SpanID, &e.Name, &e.EntityType, &e.Language, &e.Metadata); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// GraphSearch finds spans reachable via code entity relations.
func (s *Store) GraphSearch(ctx context.Context, entityIDs []int64, limit int) ([]RetrievalResult, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT ge.span_id, COALESCE(MAX(gr.weight), 0.5),
			sp.raw_text, COALESCE(sp.symbol, ''), f.repo_root, f.relative_path
		FROM graph_entities ge
		LEFT JOIN graph_relations gr ON gr.source_entity_id = ge.id OR gr.target_entity_id = ge.id
		JOIN spans sp ON sp.id = ge.span_id
		JOIN files f ON f.id = sp.file_id
		WHERE ge.id IN (?` + repeatPlaceholders(len(entityIDs)-1) + `) AND ge.span_id IS NOT NULL
		GROUP BY ge.span_id
		ORDER BY COALESCE(MAX(gr.weight), 0.5) DESC
		LIMIT ?`

	args := make([]interface{}, 0, len(entityIDs)+1)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		if err := rows.Scan(&r.SpanID, &r.Score, &r.RawText, &r.Symbol, &r.RepoRoot, &r.Path); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetRelatedEntities performs a 1-hop expansion from the given seed
// entity IDs via graph_relations.
func (s *Store) GetRelatedEntities(ctx context.Context, entityIDs []int64, limit int) ([]GraphEntity, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	if limit == 0 {
		limit = 100
	}

	ph := "?" + repeatPlaceholders(len(entityIDs)-1)
	query := `
		SELECT DISTINCT e.id, e.file_id, e.span_id, e.name, e.entity_type, COALESCE(e.language, ''), e.metadata
		FROM graph_entities e
		JOIN graph_relations r ON (e.id = r.target_entity_id OR e.id = r.source_entity_id)
		WHERE (r.source_entity_id IN (` + ph + `) OR r.target_entity_id IN (` + ph + `))
			AND e.id NOT IN (` + ph + `)
		LIMIT ?`

	args := make([]interface{}, 0, len(entityIDs)*3+1)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	for _, id := range entityIDs {
		args = append(args, id)
	}
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []GraphEntity
	for rows.Next() {
		var e GraphEntity
		if err := rows.Scan(&e.ID, &e.FileID, &e.SpanID, &e.Name, &e.EntityType, &e.Language, &e.Metadata); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
