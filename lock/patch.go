package lock

import (
	"context"
	"log/slog"
	"time"
)

// RelationPatch is one proposed graph-relation write, carrying the
// timestamp it was discovered at so concurrent contributors to the same
// merge session can be resolved deterministically.
type RelationPatch struct {
	SourceID     int64
	TargetID     int64
	RelationType string
	Weight       float64
	DiscoveredAt time.Time
}

// GraphPatch is the accumulated result of a merge session: every
// relation update surviving last-writer-wins resolution.
type GraphPatch struct {
	Relations []RelationPatch
}

// MergeSession accumulates RelationPatch contributions from concurrent
// goroutines working the same MERGE_META resource (typically every
// refinement call fanned out over one file's spans) and flushes exactly
// one merged patch when the contributors are done.
type MergeSession struct {
	mgr     *Manager
	key     string
	release Release
}

// BeginMerge acquires a MERGE_META lease for key and returns a session
// that concurrent goroutines can feed patches into via Merge. Unlike
// CritCode/CritDB, this never blocks a second caller out — MERGE_META
// acquisitions stack onto the same pending patch instead of
// serializing, which is the point: a dozen refinement goroutines for
// one file can all report relations without taking turns.
func (m *Manager) BeginMerge(ctx context.Context, key, holder string, ttl time.Duration) (*MergeSession, error) {
	res := Resource{Class: MergeMeta, Key: key}
	_, release, err := m.Acquire(ctx, res, holder, ttl)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.patches == nil {
		m.patches = make(map[string]*GraphPatch)
	}
	if _, ok := m.patches[key]; !ok {
		m.patches[key] = &GraphPatch{}
	}
	m.mu.Unlock()

	return &MergeSession{mgr: m, key: key, release: release}, nil
}

// Merge folds one contributor's relation updates into the session's
// pending patch. Safe to call from multiple goroutines concurrently.
func (s *MergeSession) Merge(relations []RelationPatch) {
	if len(relations) == 0 {
		return
	}
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	buf := s.mgr.patches[s.key]
	if buf == nil {
		buf = &GraphPatch{}
		s.mgr.patches[s.key] = buf
	}
	mergeRelations(buf, relations)
}

// Apply flushes the session's merged patch through apply exactly once
// and releases the underlying lease. Call it once, after every
// contributor has finished calling Merge (after a sync.WaitGroup.Wait,
// for instance).
func (s *MergeSession) Apply(apply func(GraphPatch) error) error {
	s.mgr.mu.Lock()
	patch := s.mgr.patches[s.key]
	delete(s.mgr.patches, s.key)
	s.mgr.mu.Unlock()

	s.release()

	if patch == nil || len(patch.Relations) == 0 {
		return nil
	}
	return apply(*patch)
}

// mergeRelations folds incoming into dst at (source, target, relation
// type) granularity: the update with the latest DiscoveredAt wins. A
// tie with disagreeing weights is logged and the earlier-seen value is
// kept, since neither contributor can be shown to be more current.
func mergeRelations(dst *GraphPatch, incoming []RelationPatch) {
	for _, upd := range incoming {
		replaced := false
		for i, existing := range dst.Relations {
			if existing.SourceID != upd.SourceID || existing.TargetID != upd.TargetID || existing.RelationType != upd.RelationType {
				continue
			}
			switch {
			case upd.DiscoveredAt.After(existing.DiscoveredAt):
				dst.Relations[i] = upd
			case upd.DiscoveredAt.Equal(existing.DiscoveredAt) && upd.Weight != existing.Weight:
				slog.Warn("lock: conflicting graph patch at equal timestamp, keeping first",
					"source_id", upd.SourceID, "target_id", upd.TargetID, "relation_type", upd.RelationType,
					"kept_weight", existing.Weight, "discarded_weight", upd.Weight)
			}
			replaced = true
			break
		}
		if !replaced {
			dst.Relations = append(dst.Relations, upd)
		}
	}
}
