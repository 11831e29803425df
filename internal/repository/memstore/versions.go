package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/thumbforge/internal/domain"
)

type versionStore struct{ s *Store }

func (r *versionStore) ListByComposition(_ context.Context, compositionID uuid.UUID) ([]domain.CompositionVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := append([]domain.CompositionVersion(nil), r.s.versions[compositionID]...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].VersionNumber > out[j].VersionNumber
	})
	return out, nil
}

func (r *versionStore) Get(_ context.Context, compositionID uuid.UUID, versionNumber int) (domain.CompositionVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return findVersion(r.s.versions[compositionID], compositionID, versionNumber)
}

func (r *versionStore) DeleteUnpublishedBefore(_ context.Context, compositionID uuid.UUID, cutoff time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := r.s.versions[compositionID]
	kept := make([]domain.CompositionVersion, 0, len(list))
	deleted := 0
	for _, v := range list {
		if !v.IsPublished && v.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, v)
	}
	r.s.versions[compositionID] = kept
	return deleted, nil
}
