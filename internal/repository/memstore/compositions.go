package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/thumbforge/internal/domain"
	"github.com/rpattn/thumbforge/internal/repository"
)

type compositionStore struct{ s *Store }

func (r *compositionStore) GetByID(_ context.Context, id uuid.UUID) (domain.Composition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.compositions[id]
	if !ok {
		return domain.Composition{}, domain.NewNotFoundError("composition", id)
	}
	return c.Clone(), nil
}

func (r *compositionStore) CountByTemplate(_ context.Context, templateID uuid.UUID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	count := 0
	for _, c := range r.s.compositions {
		if c.TemplateID == templateID {
			count++
		}
	}
	return count, nil
}

func (r *compositionStore) GenerationCounts(_ context.Context, templateID uuid.UUID) (map[domain.GenerationStatus]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	counts := make(map[domain.GenerationStatus]int)
	for _, c := range r.s.compositions {
		if c.TemplateID == templateID {
			counts[c.GenerationStatus]++
		}
	}
	return counts, nil
}

func (r *compositionStore) SetGenerationStatus(_ context.Context, id uuid.UUID, status domain.GenerationStatus, at time.Time) (domain.Composition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.compositions[id]
	if !ok {
		return domain.Composition{}, domain.NewNotFoundError("composition", id)
	}
	c.GenerationStatus = status
	c.UpdatedAt = at
	r.s.compositions[id] = c
	return c.Clone(), nil
}

func (r *compositionStore) ModifiedSince(_ context.Context, since time.Time) ([]domain.ModifiedComposition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.ModifiedComposition
	for id, list := range r.s.versions {
		c, ok := r.s.compositions[id]
		if !ok {
			continue
		}
		entry := domain.ModifiedComposition{CompositionID: id, Name: c.Name, TemplateID: c.TemplateID}
		for _, v := range list {
			if v.CreatedAt.Before(since) {
				continue
			}
			entry.VersionsInRange++
			if v.CreatedAt.After(entry.LastModified) {
				entry.LastModified = v.CreatedAt
			}
		}
		if entry.VersionsInRange > 0 {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out, nil
}

// WithinTx serializes transactions on txMu. Writes are staged and merged into
// the store only when fn succeeds; plain reads stay available meanwhile.
func (r *compositionStore) WithinTx(ctx context.Context, fn func(repository.CompositionTx) error) error {
	r.s.txMu.Lock()
	defer r.s.txMu.Unlock()

	tx := &compositionTx{
		s:        r.s,
		staged:   make(map[uuid.UUID]domain.Composition),
		versions: make(map[uuid.UUID][]domain.CompositionVersion),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type compositionTx struct {
	s        *Store
	staged   map[uuid.UUID]domain.Composition
	versions map[uuid.UUID][]domain.CompositionVersion
}

func (t *compositionTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, c := range t.staged {
		// generation outcomes are written outside transactions
		if live, ok := t.s.compositions[id]; ok {
			c.GenerationStatus = live.GenerationStatus
		}
		t.s.compositions[id] = c
	}
	for id, list := range t.versions {
		t.s.versions[id] = append(t.s.versions[id], list...)
	}
}

func (t *compositionTx) current(id uuid.UUID) (domain.Composition, bool) {
	if c, ok := t.staged[id]; ok {
		return c, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	c, ok := t.s.compositions[id]
	return c, ok
}

func (t *compositionTx) templateExists(id uuid.UUID) bool {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.templates[id]
	return ok
}

func (t *compositionTx) Lock(_ context.Context, id uuid.UUID) (domain.Composition, error) {
	c, ok := t.current(id)
	if !ok {
		return domain.Composition{}, domain.NewNotFoundError("composition", id)
	}
	return c.Clone(), nil
}

func (t *compositionTx) Insert(_ context.Context, c domain.Composition) error {
	if _, exists := t.current(c.ID); exists {
		return fmt.Errorf("composition %s already exists", c.ID)
	}
	if !t.templateExists(c.TemplateID) {
		return fmt.Errorf("composition references unknown template %s", c.TemplateID)
	}
	t.staged[c.ID] = c.Clone()
	return nil
}

func (t *compositionTx) Update(_ context.Context, c domain.Composition) error {
	existing, ok := t.current(c.ID)
	if !ok {
		return domain.NewNotFoundError("composition", c.ID)
	}
	if !t.templateExists(c.TemplateID) {
		return fmt.Errorf("composition references unknown template %s", c.TemplateID)
	}
	c.GenerationStatus = existing.GenerationStatus
	c.CreatedAt = existing.CreatedAt
	t.staged[c.ID] = c.Clone()
	return nil
}

func (t *compositionTx) all(compositionID uuid.UUID) []domain.CompositionVersion {
	t.s.mu.RLock()
	list := append([]domain.CompositionVersion(nil), t.s.versions[compositionID]...)
	t.s.mu.RUnlock()
	return append(list, t.versions[compositionID]...)
}

func (t *compositionTx) MaxVersionNumber(_ context.Context, compositionID uuid.UUID) (int, error) {
	latest := 0
	for _, v := range t.all(compositionID) {
		if v.VersionNumber > latest {
			latest = v.VersionNumber
		}
	}
	return latest, nil
}

func (t *compositionTx) InsertVersion(_ context.Context, v domain.CompositionVersion) (domain.CompositionVersion, error) {
	if v.VersionNumber <= 0 {
		return domain.CompositionVersion{}, fmt.Errorf("version number must be positive, got %d", v.VersionNumber)
	}
	for _, existing := range t.all(v.CompositionID) {
		if existing.VersionNumber == v.VersionNumber {
			return domain.CompositionVersion{}, &domain.IntegrityError{
				CompositionID: v.CompositionID,
				VersionNumber: v.VersionNumber,
				Err:           fmt.Errorf("duplicate key violates unique_composition_version"),
			}
		}
	}
	v.ID = t.s.allocVersionID()
	t.versions[v.CompositionID] = append(t.versions[v.CompositionID], v)
	return v, nil
}

func (t *compositionTx) GetVersion(_ context.Context, compositionID uuid.UUID, versionNumber int) (domain.CompositionVersion, error) {
	return findVersion(t.all(compositionID), compositionID, versionNumber)
}

func findVersion(list []domain.CompositionVersion, compositionID uuid.UUID, versionNumber int) (domain.CompositionVersion, error) {
	for _, v := range list {
		if v.VersionNumber == versionNumber {
			return v, nil
		}
	}
	return domain.CompositionVersion{}, domain.NewNotFoundError("composition version", fmt.Sprintf("%s@%d", compositionID, versionNumber))
}
