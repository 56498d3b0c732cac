package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/llmc/llmc/lock"
)

// TxGuard serializes every write transaction against a repo's database
// behind the CRIT_DB resource class, so that concurrent goroutines (or
// concurrent daemon processes sharing the same SQLite file) never race
// SQLite's own locking into a spurious SQLITE_BUSY. Reads bypass the
// guard entirely; only writers need to line up.
type TxGuard struct {
	store    *Store
	locks    *lock.Manager
	repoRoot string
	holder   string
}

// NewTxGuard builds a guard for one repo's database, coordinating with
// the given lock manager under the CRIT_DB resource keyed by repoRoot.
func NewTxGuard(s *Store, locks *lock.Manager, repoRoot, holder string) *TxGuard {
	return &TxGuard{store: s, locks: locks, repoRoot: repoRoot, holder: holder}
}

const (
	txGuardLeaseTTL   = 30 * time.Second
	txBusyMaxRetries  = 5
	txBusyBaseBackoff = 50 * time.Millisecond
)

// WithTx runs fn inside a transaction (begun in the driver's default
// deferred mode), holding the
// CRIT_DB lease for the duration and retrying with exponential backoff
// if SQLite reports the database is busy (another process holding the
// file lock outside this manager's purview, e.g. a CLI inspection
// tool).
func (g *TxGuard) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	_, release, err := g.locks.Acquire(ctx, lock.Resource{Class: lock.CritDB, Key: g.repoRoot}, g.holder, txGuardLeaseTTL)
	if err != nil {
		return fmt.Errorf("txguard: acquiring CRIT_DB lease: %w", err)
	}
	defer release()

	var lastErr error
	for attempt := 0; attempt < txBusyMaxRetries; attempt++ {
		tx, err := g.store.db.BeginTx(ctx, &sql.TxOptions{})
		if err != nil {
			if isBusyErr(err) {
				lastErr = err
				if !sleepBackoff(ctx, attempt) {
					return ctx.Err()
				}
				continue
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, "PRAGMA busy_timeout=30000"); err != nil {
			tx.Rollback()
			return err
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			if isBusyErr(err) {
				lastErr = err
				if !sleepBackoff(ctx, attempt) {
					return ctx.Err()
				}
				continue
			}
			return err
		}
		return nil
	}

	slog.Warn("txguard: exhausted busy retries", "repo_root", g.repoRoot, "attempts", txBusyMaxRetries)
	return fmt.Errorf("txguard: database busy after %d attempts: %w", txBusyMaxRetries, lastErr)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") ||
		errors.Is(err, sql.ErrTxDone)
}

func sleepBackoff(ctx context.Context, attempt int) bool {
	delay := txBusyBaseBackoff * time.Duration(1<<attempt)
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
