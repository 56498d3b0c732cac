// Package graph builds the code entity/relation graph that backs
// graph-aware retrieval: every named span (function, class, interface,
// type alias) becomes a node, and import/extends/instantiates/calls
// edges connect them. Entity and obvious structural-relation discovery
// is deterministic (regex over the declaration line and span body);
// an optional LLM refinement pass fills in relations regex heuristics
// miss, such as calls made through an intermediate variable.
package graph

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/llmc/llmc/llm"
	"github.com/llmc/llmc/lock"
	"github.com/llmc/llmc/parser"
	"github.com/llmc/llmc/store"
)

// defaultConcurrency bounds parallel LLM refinement calls when the
// caller does not set one explicitly.
const defaultConcurrency = 16

// defaultMergeTTL bounds how long a file's MERGE_META relation-patch
// session may stay open; it only needs to outlive one refineFile call.
const defaultMergeTTL = 2 * time.Minute

// Builder extracts code entities and relations from a file's spans and
// persists them to the store.
type Builder struct {
	store       *store.Store
	router      *llm.Router // nil disables LLM-assisted relation refinement
	routeKey    string
	concurrency int
	locks       *lock.Manager
	mergeTTL    time.Duration
}

// NewBuilder creates a Builder. router may be nil, in which case only
// the deterministic regex-based extraction runs. locks may be nil, in
// which case refinement goroutines write their relations directly
// instead of merging them through a MERGE_META session.
func NewBuilder(s *store.Store, router *llm.Router, routeKey string, concurrency int, locks *lock.Manager) *Builder {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Builder{store: s, router: router, routeKey: routeKey, concurrency: concurrency, locks: locks, mergeTTL: defaultMergeTTL}
}

// BuildFile registers every named span in a file as a graph entity,
// derives import/extends/instantiates/calls relations deterministically
// from source text, and — if the builder has a router — runs an LLM
// refinement pass to catch relations the regex heuristics miss. spans
// and spanIDs correspond by index.
func (b *Builder) BuildFile(ctx context.Context, fileID int64, language, content string, spans []parser.Span, spanIDs []int64) error {
	if len(spans) != len(spanIDs) {
		return fmt.Errorf("graph.BuildFile: spans and spanIDs length mismatch (%d vs %d)", len(spans), len(spanIDs))
	}

	entityIDs := make(map[string]int64)

	for i, sp := range spans {
		if sp.Kind != parser.KindCode || sp.Symbol == "" {
			continue
		}
		eType := entityTypeForDeclaration(firstNonEmptyLine(sp.Text))
		id, err := b.store.UpsertGraphEntity(ctx, store.GraphEntity{
			FileID:     fileID,
			SpanID:     sql.NullInt64{Int64: spanIDs[i], Valid: true},
			Name:       sp.Symbol,
			EntityType: eType,
			Language:   language,
		})
		if err != nil {
			slog.Warn("graph: entity upsert failed", "name", sp.Symbol, "file_id", fileID, "error", err)
			continue
		}
		entityIDs[sp.Symbol] = id
	}

	if len(entityIDs) == 0 {
		return nil
	}

	if err := b.addImportRelations(ctx, fileID, language, content); err != nil {
		slog.Warn("graph: import relation extraction failed", "file_id", fileID, "error", err)
	}

	for _, sp := range spans {
		if sp.Kind != parser.KindCode || sp.Symbol == "" {
			continue
		}
		srcID, ok := entityIDs[sp.Symbol]
		if !ok {
			continue
		}
		b.addExtendsRelation(ctx, language, sp, srcID, entityIDs)
		b.addCallRelations(ctx, sp, srcID, entityIDs)
	}

	b.refineFile(ctx, fileID, spans, entityIDs)

	return nil
}

func (b *Builder) addImportRelations(ctx context.Context, fileID int64, language, content string) error {
	re, ok := importPatterns[language]
	if !ok {
		return nil
	}
	matches := re.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	selfID, err := b.store.UpsertGraphEntity(ctx, store.GraphEntity{
		FileID:     fileID,
		Name:       fmt.Sprintf("file:%d", fileID),
		EntityType: EntityModule,
		Language:   language,
	})
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, m := range matches {
		path := firstNonEmpty(m[1:])
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true

		targetID, err := b.store.UpsertGraphEntity(ctx, store.GraphEntity{
			FileID:     fileID,
			Name:       path,
			EntityType: EntityModule,
			Language:   language,
		})
		if err != nil {
			slog.Warn("graph: import target upsert failed", "path", path, "error", err)
			continue
		}
		if _, err := b.store.InsertGraphRelation(ctx, store.GraphRelation{
			SourceEntityID: selfID,
			TargetEntityID: targetID,
			RelationType:   RelImports,
			Weight:         1.0,
		}); err != nil {
			slog.Warn("graph: import relation insert failed", "path", path, "error", err)
		}
	}
	return nil
}

func (b *Builder) addExtendsRelation(ctx context.Context, language string, sp parser.Span, srcID int64, entityIDs map[string]int64) {
	re, ok := extendsPatterns[language]
	if !ok {
		return
	}
	m := re.FindStringSubmatch(firstNonEmptyLine(sp.Text))
	if m == nil {
		return
	}
	for _, parent := range m[1:] {
		parent = strings.TrimSpace(parent)
		if parent == "" {
			continue
		}
		targetID, ok := entityIDs[parent]
		if !ok {
			// Parent type is declared elsewhere; cross-file edges are
			// out of scope for the deterministic pass.
			continue
		}
		if _, err := b.store.InsertGraphRelation(ctx, store.GraphRelation{
			SourceEntityID: srcID,
			TargetEntityID: targetID,
			RelationType:   RelExtends,
			Weight:         1.0,
		}); err != nil {
			slog.Warn("graph: extends relation insert failed", "error", err)
		}
	}
}

func (b *Builder) addCallRelations(ctx context.Context, sp parser.Span, srcID int64, entityIDs map[string]int64) {
	seen := make(map[string]bool)

	for _, m := range instantiatePattern.FindAllStringSubmatch(sp.Text, -1) {
		name := m[1]
		if name == sp.Symbol || seen[name] {
			continue
		}
		targetID, ok := entityIDs[name]
		if !ok {
			continue
		}
		seen[name] = true
		if _, err := b.store.InsertGraphRelation(ctx, store.GraphRelation{
			SourceEntityID: srcID, TargetEntityID: targetID, RelationType: RelInstantiates, Weight: 1.0,
		}); err != nil {
			slog.Warn("graph: instantiates relation insert failed", "error", err)
		}
	}

	for _, m := range callPattern.FindAllStringSubmatch(sp.Text, -1) {
		name := m[1]
		if name == sp.Symbol || seen[name] {
			continue
		}
		targetID, ok := entityIDs[name]
		if !ok {
			continue
		}
		seen[name] = true
		if _, err := b.store.InsertGraphRelation(ctx, store.GraphRelation{
			SourceEntityID: srcID, TargetEntityID: targetID, RelationType: RelCalls, Weight: 1.0,
		}); err != nil {
			slog.Warn("graph: calls relation insert failed", "error", err)
		}
	}
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

func firstNonEmpty(ss []string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
