package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/thumbforge/internal/domain"
)

// TemplateRepository defines the interface for template data operations
type TemplateRepository interface {
	Create(ctx context.Context, template domain.Template) (domain.Template, error)
	Update(ctx context.Context, template domain.Template) (domain.Template, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Template, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Template, error)
	// ListActive returns active templates scoped to showID plus global ones,
	// show-specific first, then name, then version descending. A nil showID
	// returns only global templates.
	ListActive(ctx context.Context, showID *uuid.UUID) ([]domain.Template, error)
	// LatestActive returns the highest active version of name in exactly the
	// given scope (nil = global).
	LatestActive(ctx context.Context, name string, showID *uuid.UUID) (domain.Template, error)
	ExistsVersion(ctx context.Context, name string, version int, showID *uuid.UUID) (bool, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListUsingRole(ctx context.Context, role string) ([]domain.Template, error)
}

// CompositionRepository defines the interface for composition data operations.
// Writes that must produce a snapshot go through WithinTx.
type CompositionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Composition, error)
	CountByTemplate(ctx context.Context, templateID uuid.UUID) (int, error)
	GenerationCounts(ctx context.Context, templateID uuid.UUID) (map[domain.GenerationStatus]int, error)
	SetGenerationStatus(ctx context.Context, id uuid.UUID, status domain.GenerationStatus, at time.Time) (domain.Composition, error)
	ModifiedSince(ctx context.Context, since time.Time) ([]domain.ModifiedComposition, error)
	WithinTx(ctx context.Context, fn func(CompositionTx) error) error
}

// CompositionTx is the transactional view used to advance a composition and
// record its snapshot atomically.
type CompositionTx interface {
	// Lock loads the composition and holds it against concurrent writers
	// until the transaction ends.
	Lock(ctx context.Context, id uuid.UUID) (domain.Composition, error)
	Insert(ctx context.Context, composition domain.Composition) error
	Update(ctx context.Context, composition domain.Composition) error
	MaxVersionNumber(ctx context.Context, compositionID uuid.UUID) (int, error)
	InsertVersion(ctx context.Context, version domain.CompositionVersion) (domain.CompositionVersion, error)
	GetVersion(ctx context.Context, compositionID uuid.UUID, versionNumber int) (domain.CompositionVersion, error)
}

// VersionRepository defines read and retention operations on snapshots
type VersionRepository interface {
	// ListByComposition returns every snapshot, newest first.
	ListByComposition(ctx context.Context, compositionID uuid.UUID) ([]domain.CompositionVersion, error)
	Get(ctx context.Context, compositionID uuid.UUID, versionNumber int) (domain.CompositionVersion, error)
	// DeleteUnpublishedBefore removes unpublished snapshots created before
	// cutoff and returns how many were removed.
	DeleteUnpublishedBefore(ctx context.Context, compositionID uuid.UUID, cutoff time.Time) (int, error)
}
