// Package memstore keeps templates, compositions and snapshots in process
// memory. It backs tests and the "memory" storage mode.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/thumbforge/internal/domain"
	"github.com/rpattn/thumbforge/internal/repository"
)

// Store is safe for concurrent use. Composition transactions are serialized
// and their writes are only published when the transaction succeeds.
type Store struct {
	txMu          sync.Mutex
	mu            sync.RWMutex
	templates     map[uuid.UUID]domain.Template
	compositions  map[uuid.UUID]domain.Composition
	versions      map[uuid.UUID][]domain.CompositionVersion
	nextVersionID int64
}

func New() *Store {
	return &Store{
		templates:    make(map[uuid.UUID]domain.Template),
		compositions: make(map[uuid.UUID]domain.Composition),
		versions:     make(map[uuid.UUID][]domain.CompositionVersion),
	}
}

func (s *Store) Templates() repository.TemplateRepository {
	return &templateStore{s}
}

func (s *Store) Compositions() repository.CompositionRepository {
	return &compositionStore{s}
}

func (s *Store) Versions() repository.VersionRepository {
	return &versionStore{s}
}

// Backdate rewrites the creation time of one snapshot. Retention tests use it
// to age history without waiting.
func (s *Store) Backdate(compositionID uuid.UUID, versionNumber int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.versions[compositionID]
	for i := range list {
		if list[i].VersionNumber == versionNumber {
			list[i].CreatedAt = at
			return nil
		}
	}
	return domain.NewNotFoundError("composition version", fmt.Sprintf("%s@%d", compositionID, versionNumber))
}

// allocVersionID hands out snapshot ids. Like a sequence, ids of rolled back
// inserts are not reused.
func (s *Store) allocVersionID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextVersionID++
	return s.nextVersionID
}

type templateStore struct{ s *Store }

func (r *templateStore) Create(_ context.Context, t domain.Template) (domain.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.versionTaken(t.Name, t.Version, t.ShowID, uuid.Nil) {
		return domain.Template{}, domain.NewValidationError("version", "template %q version %d already exists in this scope", t.Name, t.Version)
	}
	t.UpdatedAt = t.CreatedAt
	r.s.templates[t.ID] = t.Clone()
	return t.Clone(), nil
}

func (r *templateStore) Update(_ context.Context, t domain.Template) (domain.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.templates[t.ID]; !ok {
		return domain.Template{}, domain.NewNotFoundError("template", t.ID)
	}
	if r.s.versionTaken(t.Name, t.Version, t.ShowID, t.ID) {
		return domain.Template{}, domain.NewValidationError("version", "template %q version %d already exists in this scope", t.Name, t.Version)
	}
	r.s.templates[t.ID] = t.Clone()
	return t.Clone(), nil
}

func (r *templateStore) GetByID(_ context.Context, id uuid.UUID) (domain.Template, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.templates[id]
	if !ok {
		return domain.Template{}, domain.NewNotFoundError("template", id)
	}
	return t.Clone(), nil
}

func (r *templateStore) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.Template, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Template
	for _, id := range ids {
		if t, ok := r.s.templates[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (r *templateStore) ListActive(_ context.Context, showID *uuid.UUID) ([]domain.Template, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Template
	for _, t := range r.s.templates {
		if !t.IsActive {
			continue
		}
		if t.IsGlobal() || (showID != nil && sameScope(t.ShowID, showID)) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsGlobal() != b.IsGlobal() {
			return !a.IsGlobal()
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version > b.Version
	})
	return out, nil
}

func (r *templateStore) LatestActive(_ context.Context, name string, showID *uuid.UUID) (domain.Template, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var (
		best  domain.Template
		found bool
	)
	for _, t := range r.s.templates {
		if !t.IsActive || t.Name != name || !sameScope(t.ShowID, showID) {
			continue
		}
		if !found || t.Version > best.Version {
			best, found = t, true
		}
	}
	if !found {
		return domain.Template{}, domain.NewNotFoundError("template", name)
	}
	return best.Clone(), nil
}

func (r *templateStore) ExistsVersion(_ context.Context, name string, version int, showID *uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.versionTaken(name, version, showID, uuid.Nil), nil
}

func (r *templateStore) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return domain.NewNotFoundError("template", id)
	}
	t.IsActive = active
	t.UpdatedAt = time.Now().UTC()
	r.s.templates[id] = t
	return nil
}

func (r *templateStore) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.templates[id]; !ok {
		return domain.NewNotFoundError("template", id)
	}
	for _, c := range r.s.compositions {
		if c.TemplateID == id {
			return fmt.Errorf("template %s is still referenced by composition %s", id, c.ID)
		}
	}
	delete(r.s.templates, id)
	return nil
}

func (r *templateStore) ListUsingRole(_ context.Context, role string) ([]domain.Template, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Template
	for _, t := range r.s.templates {
		if t.IsActive && t.UsesRole(role) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

// versionTaken must be called with s.mu held.
func (s *Store) versionTaken(name string, version int, showID *uuid.UUID, except uuid.UUID) bool {
	for id, t := range s.templates {
		if id == except {
			continue
		}
		if t.Name == name && t.Version == version && sameScope(t.ShowID, showID) {
			return true
		}
	}
	return false
}

func sameScope(a, b *uuid.UUID) bool {
	aGlobal := a == nil || *a == uuid.Nil
	bGlobal := b == nil || *b == uuid.Nil
	if aGlobal || bGlobal {
		return aGlobal == bGlobal
	}
	return *a == *b
}
