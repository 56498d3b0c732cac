// Package queue is a cross-process work queue of spans needing
// enrichment: Engine.IndexFile pushes every span it reconciles, and
// Pull/Complete/Fail let a consumer lease and finish them. A lease that
// is never completed expires and becomes claimable again — no separate
// heartbeat or orphan-recovery pass is needed, since an expired lease
// is just a row any Pull can reclaim. The enrichment pipeline in this
// repository selects its batches through the scheduler and does not
// call Pull.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/llmc/llmc/store"
)

// Item is a leased row from pending_enrichments.
type Item struct {
	ID             int64
	RepoPath       string
	SpanID         int64
	SpanHash       string
	Priority       float64
	LeaseOwner     string
	LeaseExpiresAt time.Time
	EnqueuedAt     time.Time
}

// Queue wraps the pending_enrichments table.
type Queue struct {
	db *sql.DB
}

// New builds a Queue over the store's underlying database.
func New(s *store.Store) *Queue {
	return &Queue{db: s.DB()}
}

// Push enqueues a span for enrichment. Re-pushing the same
// (repoPath, spanHash) pair is idempotent: it raises the existing
// row's priority rather than creating a duplicate, since the unique
// index is on (repo_path, span_hash).
func (q *Queue) Push(ctx context.Context, repoPath string, spanID int64, spanHash string, priority float64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pending_enrichments (repo_path, span_id, span_hash, priority_weight, state)
		VALUES (?, ?, ?, ?, 'pending')
		ON CONFLICT(repo_path, span_hash) DO UPDATE SET
			priority_weight = MAX(pending_enrichments.priority_weight, excluded.priority_weight),
			span_id = excluded.span_id
	`, repoPath, spanID, spanHash, priority)
	if err != nil {
		return fmt.Errorf("queue: push: %w", err)
	}
	return nil
}

// Pull leases up to n pending items under repoPath to owner for ttl,
// highest priority first. Each row is claimed with its own atomic
// UPDATE ... WHERE ... RETURNING so two worker processes racing on the
// same queue never double-claim a row: whichever UPDATE runs first
// wins, the second sees no matching row and moves to the next.
func (q *Queue) Pull(ctx context.Context, repoPath, owner string, n int, ttl time.Duration) ([]Item, error) {
	items := make([]Item, 0, n)
	for len(items) < n {
		now := time.Now()
		row := q.db.QueryRowContext(ctx, `
			UPDATE pending_enrichments
			SET lease_owner = ?, lease_expires_at = ?
			WHERE id = (
				SELECT id FROM pending_enrichments
				WHERE repo_path = ?
					AND (lease_expires_at IS NULL OR lease_expires_at < ?)
				ORDER BY priority_weight DESC, enqueued_at ASC
				LIMIT 1
			)
			RETURNING id, repo_path, span_id, span_hash, priority_weight, enqueued_at
		`, owner, now.Add(ttl), repoPath, now)

		var it Item
		if err := row.Scan(&it.ID, &it.RepoPath, &it.SpanID, &it.SpanHash, &it.Priority, &it.EnqueuedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			return items, fmt.Errorf("queue: leasing item: %w", err)
		}
		it.LeaseOwner = owner
		it.LeaseExpiresAt = now.Add(ttl)
		items = append(items, it)
	}
	return items, nil
}

// Complete removes a finished item from the queue.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_enrichments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	return nil
}

// Fail releases an item's lease without removing it, optionally
// deferring its next eligible pull by backoff. Failure cooldown (how
// long to wait before retrying a span that keeps failing) is tracked
// separately in enrichment_failures; this only controls queue-level
// retry spacing.
func (q *Queue) Fail(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE pending_enrichments
		SET lease_owner = NULL, lease_expires_at = ?
		WHERE id = ?
	`, time.Now().Add(backoff), id)
	if err != nil {
		return fmt.Errorf("queue: fail: %w", err)
	}
	return nil
}

// Depth returns the number of items still pending (leased or not)
// under repoPath, for daemon idle-loop throttling decisions.
func (q *Queue) Depth(ctx context.Context, repoPath string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_enrichments WHERE repo_path = ?`, repoPath).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return n, nil
}
