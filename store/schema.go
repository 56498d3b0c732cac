package store

import "fmt"

// schemaSQL returns the DDL for all core tables. Embedding tables are
// created separately per profile via EnsureEmbeddingProfile, since the
// set of embedding profiles is only known once the router config loads.
const schemaSQL = `
-- File registry with hash-based change detection.
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY,
    repo_root TEXT NOT NULL,
    relative_path TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    content_type TEXT NOT NULL,
    language TEXT,
    sidecar_path TEXT,
    mtime DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(repo_root, relative_path)
);

-- Spans: the unit of enrichment and retrieval. A span is a contiguous
-- slice of a file (a function, a heading section, or a whole-file
-- fallback) identified by a content hash for differential reconciliation.
CREATE TABLE IF NOT EXISTS spans (
    id INTEGER PRIMARY KEY,
    file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    symbol TEXT,
    content_type TEXT NOT NULL,
    language TEXT,
    raw_text TEXT NOT NULL,
    span_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(file_id, span_hash)
);

-- Full-text search over span bodies. unicode61 only, deliberately
-- without the porter stemmer: identifiers and symbol names lose meaning
-- under stemming (e.g. "Parser" / "Parsing" collapsing loses the
-- distinction a code search needs), so stopword/stem normalization is
-- skipped entirely for this corpus.
CREATE VIRTUAL TABLE IF NOT EXISTS spans_fts USING fts5(
    raw_text,
    symbol,
    content='spans',
    content_rowid='id',
    tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS spans_ai AFTER INSERT ON spans BEGIN
    INSERT INTO spans_fts(rowid, raw_text, symbol) VALUES (new.id, new.raw_text, new.symbol);
END;
CREATE TRIGGER IF NOT EXISTS spans_ad AFTER DELETE ON spans BEGIN
    INSERT INTO spans_fts(spans_fts, rowid, raw_text, symbol) VALUES ('delete', old.id, old.raw_text, old.symbol);
END;
CREATE TRIGGER IF NOT EXISTS spans_au AFTER UPDATE ON spans BEGIN
    INSERT INTO spans_fts(spans_fts, rowid, raw_text, symbol) VALUES ('delete', old.id, old.raw_text, old.symbol);
    INSERT INTO spans_fts(spans_fts, rowid, raw_text, symbol) VALUES (new.id, new.raw_text, new.symbol);
END;

-- One enrichment record per span (the most recent successful pass).
CREATE TABLE IF NOT EXISTS enrichments (
    span_id INTEGER PRIMARY KEY REFERENCES spans(id) ON DELETE CASCADE,
    summary TEXT NOT NULL,
    model TEXT NOT NULL,
    chain TEXT NOT NULL,
    backend TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 1,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Failure cooldown tracking, keyed by span so a span that keeps failing
-- backs off instead of being retried on every scheduler pass.
CREATE TABLE IF NOT EXISTS enrichment_failures (
    span_id INTEGER PRIMARY KEY REFERENCES spans(id) ON DELETE CASCADE,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    last_attempt_at DATETIME
);

-- Cross-process work queue. A span becomes a queue row when
-- Engine.IndexFile reconciles it into the spans table, and queue/ owns
-- the row's lease lifecycle; enrich/ selects its batches through the
-- scheduler, not from this table.
CREATE TABLE IF NOT EXISTS pending_enrichments (
    id INTEGER PRIMARY KEY,
    repo_path TEXT NOT NULL,
    span_id INTEGER NOT NULL REFERENCES spans(id) ON DELETE CASCADE,
    span_hash TEXT NOT NULL,
    priority_weight REAL NOT NULL DEFAULT 1.0,
    state TEXT NOT NULL DEFAULT 'pending',
    lease_owner TEXT,
    lease_expires_at DATETIME,
    enqueued_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(repo_path, span_hash)
);

-- Code entity/relation graph: functions, classes, interfaces, type
-- aliases, and the import/call/extend/instantiate edges between them.
CREATE TABLE IF NOT EXISTS graph_entities (
    id INTEGER PRIMARY KEY,
    file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    span_id INTEGER REFERENCES spans(id) ON DELETE SET NULL,
    name TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    language TEXT,
    metadata JSON,
    UNIQUE(file_id, name, entity_type)
);

CREATE TABLE IF NOT EXISTS graph_relations (
    id INTEGER PRIMARY KEY,
    source_entity_id INTEGER NOT NULL REFERENCES graph_entities(id) ON DELETE CASCADE,
    target_entity_id INTEGER NOT NULL REFERENCES graph_entities(id) ON DELETE CASCADE,
    relation_type TEXT NOT NULL,
    weight REAL DEFAULT 1.0,
    metadata JSON
);

-- Anti-stomp lease/fencing state, persisted so leases survive daemon
-- restarts and so multiple processes sharing a repo see the same table.
CREATE TABLE IF NOT EXISTS resource_leases (
    resource_class TEXT NOT NULL,
    resource_key TEXT NOT NULL,
    holder TEXT NOT NULL,
    fencing_token INTEGER NOT NULL,
    acquired_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL,
    PRIMARY KEY (resource_class, resource_key)
);

CREATE INDEX IF NOT EXISTS idx_spans_file ON spans(file_id);
CREATE INDEX IF NOT EXISTS idx_files_hash ON files(content_hash);
CREATE INDEX IF NOT EXISTS idx_pending_state ON pending_enrichments(state);
CREATE INDEX IF NOT EXISTS idx_pending_repo ON pending_enrichments(repo_path);
CREATE INDEX IF NOT EXISTS idx_graph_entities_type ON graph_entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_graph_relations_source ON graph_relations(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_graph_relations_target ON graph_relations(target_entity_id);
`

// embeddingTableName derives the per-profile vec0 virtual table name.
// Profile names are restricted to identifier-safe characters by config
// validation before this is ever called.
func embeddingTableName(profile string) string {
	return "embeddings_" + profile
}

func embeddingSchemaSQL(profile string, dim int) string {
	return fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
		span_id INTEGER PRIMARY KEY,
		embedding float[%d]
	)`, embeddingTableName(profile), dim)
}
