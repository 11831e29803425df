// Package versioning mutates compositions and keeps their append-only
// snapshot history.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpattn/thumbforge/internal/auth"
	"github.com/rpattn/thumbforge/internal/domain"
	"github.com/rpattn/thumbforge/internal/repository"
	"github.com/rpattn/thumbforge/internal/roles"
	"github.com/rpattn/thumbforge/internal/tracing"
)

// DefaultRetentionDays is the cleanup window used when callers pass none.
const DefaultRetentionDays = 90

// TemplateValidator checks an asset map against a template's role contract.
type TemplateValidator interface {
	ValidateAssetMap(ctx context.Context, templateID uuid.UUID, assets map[string]string) (domain.ValidationResult, error)
}

// Engine applies composition changes and records one snapshot per change in
// the same transaction.
type Engine struct {
	validator    TemplateValidator
	templates    repository.TemplateRepository
	compositions repository.CompositionRepository
	versions     repository.VersionRepository
	registry     *roles.Registry

	recordNoopUpdates bool
	retentionDays     int

	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Engine)

// WithRecordNoopUpdates controls whether an update that changes no tracked
// field still produces a version.
func WithRecordNoopUpdates(record bool) Option {
	return func(e *Engine) {
		e.recordNoopUpdates = record
	}
}

func WithRetentionDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.retentionDays = days
		}
	}
}

// WithRegistry replaces the canonical role registry asset maps are checked against.
func WithRegistry(registry *roles.Registry) Option {
	return func(e *Engine) {
		if registry != nil {
			e.registry = registry
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(
	validator TemplateValidator,
	templates repository.TemplateRepository,
	compositions repository.CompositionRepository,
	versions repository.VersionRepository,
	opts ...Option,
) *Engine {
	engine := &Engine{
		validator:         validator,
		templates:         templates,
		compositions:      compositions,
		versions:          versions,
		registry:          roles.Default(),
		recordNoopUpdates: true,
		retentionDays:     DefaultRetentionDays,
		tracer:            tracing.Noop().Tracer(),
		logger:            slog.Default(),
		now:               func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// RetentionDays is the default cleanup window.
func (e *Engine) RetentionDays() int {
	return e.retentionDays
}

// CreateInput describes a new composition.
type CreateInput struct {
	TemplateID      uuid.UUID         `json:"template_id"`
	Name            string            `json:"name"`
	AssetMap        map[string]string `json:"asset_map"`
	SelectedFormats []string          `json:"selected_formats"`
	Status          string            `json:"status"`
	AuthorID        string            `json:"-"`
}

// CreateComposition validates the asset map against the template and stores
// the composition at version 1 together with its first snapshot.
func (e *Engine) CreateComposition(ctx context.Context, input CreateInput) (created domain.Composition, err error) {
	ctx, span := e.tracer.Start(ctx, "versioning.CreateComposition", trace.WithAttributes(
		attribute.String("template.id", input.TemplateID.String()),
	))
	defer func() { tracing.End(span, err) }()

	if input.TemplateID == uuid.Nil {
		return domain.Composition{}, domain.NewValidationError("template_id", "is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return domain.Composition{}, domain.NewValidationError("name", "is required")
	}
	status := domain.StatusDraft
	if strings.TrimSpace(input.Status) != "" {
		parsed, ok := domain.ParseCompositionStatus(input.Status)
		if !ok {
			return domain.Composition{}, domain.NewValidationError("status", "unknown status %q", input.Status)
		}
		status = parsed
	}

	warnings, err := e.checkCompliance(ctx, input.TemplateID, input.AssetMap)
	if err != nil {
		return domain.Composition{}, err
	}

	author := actor(ctx, input.AuthorID)
	now := e.now()
	c := domain.NewComposition(input.TemplateID, input.Name, input.AssetMap, input.SelectedFormats, status, author, now)

	err = e.compositions.WithinTx(ctx, func(tx repository.CompositionTx) error {
		if err := tx.Insert(ctx, c); err != nil {
			return fmt.Errorf("insert composition: %w", err)
		}
		_, err := e.recordVersion(ctx, tx, c, domain.ChangeSummaryCreated, domain.ChangedFields{}, author, now)
		return err
	})
	if err != nil {
		return domain.Composition{}, err
	}

	e.logger.InfoContext(ctx, "composition created", "composition_id", c.ID, "template_id", c.TemplateID, "author", author)
	c.Warnings = warnings
	return c, nil
}

// UpdateComposition applies patch under a row lock, diffs the tracked fields
// and records the next version. Template or asset changes are re-validated.
func (e *Engine) UpdateComposition(ctx context.Context, id uuid.UUID, patch domain.CompositionPatch, authorID string) (updated domain.Composition, err error) {
	ctx, span := e.tracer.Start(ctx, "versioning.UpdateComposition", trace.WithAttributes(attribute.String("composition.id", id.String())))
	defer func() { tracing.End(span, err) }()

	if patch.Status != nil && !patch.Status.Valid() {
		return domain.Composition{}, domain.NewValidationError("status", "unknown status %q", *patch.Status)
	}
	if patch.TemplateID != nil && *patch.TemplateID == uuid.Nil {
		return domain.Composition{}, domain.NewValidationError("template_id", "cannot be empty")
	}
	author := actor(ctx, authorID)

	err = e.compositions.WithinTx(ctx, func(tx repository.CompositionTx) error {
		current, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		next := patch.Apply(current)
		if next.Name == "" {
			return domain.NewValidationError("name", "cannot be empty")
		}
		if !current.Status.CanTransitionTo(next.Status) {
			return domain.NewValidationError("status", "cannot move from %s to %s; revert to an earlier version instead", current.Status, next.Status)
		}

		changes := domain.DiffSnapshots(current.Snapshot(), next.Snapshot())
		if changes == nil && !e.recordNoopUpdates {
			updated = current
			return nil
		}
		var warnings []string
		if touchesContract(changes) {
			if warnings, err = e.checkCompliance(ctx, next.TemplateID, next.AssetMap); err != nil {
				return err
			}
		}

		next, err = e.advance(ctx, tx, current, next, author)
		if err != nil {
			return err
		}
		if _, err := e.recordVersion(ctx, tx, next, summarize(changes), domain.ChangedFields{Fields: changes}, author, next.LastModifiedAt); err != nil {
			return err
		}
		updated = next
		updated.Warnings = warnings
		return nil
	})
	if err != nil {
		return domain.Composition{}, err
	}
	span.SetAttributes(attribute.Int("composition.version", updated.CurrentVersion))
	return updated, nil
}

// RecordGenerationOutcome stores the rendering pipeline's last outcome. It
// does not create a version.
func (e *Engine) RecordGenerationOutcome(ctx context.Context, id uuid.UUID, status domain.GenerationStatus) (domain.Composition, error) {
	parsed, ok := domain.ParseGenerationStatus(string(status))
	if !ok {
		return domain.Composition{}, domain.NewValidationError("generation_status", "unknown status %q", status)
	}
	c, err := e.compositions.SetGenerationStatus(ctx, id, parsed, e.now())
	if err != nil {
		return domain.Composition{}, err
	}
	return c, nil
}

func (e *Engine) GetComposition(ctx context.Context, id uuid.UUID) (domain.Composition, error) {
	return e.compositions.GetByID(ctx, id)
}

// History is a composition summary with every retained version, newest first.
type History struct {
	CompositionID  uuid.UUID                   `json:"composition_id"`
	Name           string                      `json:"name"`
	CurrentVersion int                         `json:"current_version"`
	Status         domain.CompositionStatus    `json:"status"`
	Versions       []domain.CompositionVersion `json:"versions"`
}

func (e *Engine) GetVersionHistory(ctx context.Context, id uuid.UUID) (History, error) {
	c, err := e.compositions.GetByID(ctx, id)
	if err != nil {
		return History{}, err
	}
	list, err := e.versions.ListByComposition(ctx, id)
	if err != nil {
		return History{}, fmt.Errorf("list versions: %w", err)
	}
	if list == nil {
		list = []domain.CompositionVersion{}
	}
	return History{
		CompositionID:  c.ID,
		Name:           c.Name,
		CurrentVersion: c.CurrentVersion,
		Status:         c.Status,
		Versions:       list,
	}, nil
}

func (e *Engine) GetSpecificVersion(ctx context.Context, id uuid.UUID, versionNumber int) (domain.CompositionVersion, error) {
	if versionNumber <= 0 {
		return domain.CompositionVersion{}, domain.NewValidationError("version", "must be a positive integer")
	}
	return e.versions.Get(ctx, id, versionNumber)
}

// VersionRef identifies one side of a comparison.
type VersionRef struct {
	Number    int                        `json:"number"`
	CreatedAt time.Time                  `json:"created_at"`
	CreatedBy string                     `json:"created_by"`
	Snapshot  domain.CompositionSnapshot `json:"snapshot"`
}

// Comparison lists tracked fields that differ between two versions. Old is
// version A's value and New is version B's.
type Comparison struct {
	CompositionID   uuid.UUID                     `json:"composition_id"`
	VersionA        VersionRef                    `json:"version_a"`
	VersionB        VersionRef                    `json:"version_b"`
	Differences     map[string]domain.FieldChange `json:"differences"`
	DifferenceCount int                           `json:"difference_count"`
	TextDiff        string                        `json:"text_diff"`
}

func (e *Engine) CompareVersions(ctx context.Context, id uuid.UUID, versionA, versionB int) (Comparison, error) {
	a, err := e.GetSpecificVersion(ctx, id, versionA)
	if err != nil {
		return Comparison{}, err
	}
	b, err := e.GetSpecificVersion(ctx, id, versionB)
	if err != nil {
		return Comparison{}, err
	}
	differences := domain.DiffSnapshots(a.Snapshot, b.Snapshot)
	return Comparison{
		CompositionID:   id,
		VersionA:        refOf(a),
		VersionB:        refOf(b),
		Differences:     differences,
		DifferenceCount: len(differences),
		TextDiff: domain.DiffSnapshotText(
			fmt.Sprintf("v%d", versionA), a.Snapshot,
			fmt.Sprintf("v%d", versionB), b.Snapshot,
		),
	}, nil
}

// RevertDetails describes a completed revert.
type RevertDetails struct {
	FromVersion      int       `json:"from_version"`
	ToVersion        int       `json:"to_version"`
	NewVersionNumber int       `json:"new_version_number"`
	RevertedBy       string    `json:"reverted_by"`
	Reason           string    `json:"reason"`
	RevertedAt       time.Time `json:"reverted_at"`
}

type RevertResult struct {
	Composition   domain.Composition `json:"composition"`
	RevertDetails RevertDetails      `json:"revert_details"`
}

// RevertToVersion restores the tracked fields of an earlier snapshot as a new
// version. History is never rewritten.
func (e *Engine) RevertToVersion(ctx context.Context, id uuid.UUID, target int, userID, reason string) (result RevertResult, err error) {
	ctx, span := e.tracer.Start(ctx, "versioning.RevertToVersion", trace.WithAttributes(
		attribute.String("composition.id", id.String()),
		attribute.Int("composition.target_version", target),
	))
	defer func() { tracing.End(span, err) }()

	if target <= 0 {
		return RevertResult{}, domain.NewValidationError("target_version", "must be a positive integer")
	}
	author := actor(ctx, userID)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "No reason provided"
	}

	err = e.compositions.WithinTx(ctx, func(tx repository.CompositionTx) error {
		snapshot, err := tx.GetVersion(ctx, id, target)
		if err != nil {
			return err
		}
		current, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		next := current.Clone()
		next.Restore(snapshot.Snapshot)

		next, err = e.advance(ctx, tx, current, next, author)
		if err != nil {
			return err
		}
		changes := domain.ChangedFields{Revert: &domain.RevertMarker{FromVersion: target, Reason: reason}}
		summary := fmt.Sprintf("Reverted to v%d. Reason: %s", target, reason)
		if _, err := e.recordVersion(ctx, tx, next, summary, changes, author, next.LastModifiedAt); err != nil {
			return err
		}

		result = RevertResult{
			Composition: next,
			RevertDetails: RevertDetails{
				FromVersion:      current.CurrentVersion,
				ToVersion:        target,
				NewVersionNumber: next.CurrentVersion,
				RevertedBy:       author,
				Reason:           reason,
				RevertedAt:       next.LastModifiedAt,
			},
		}
		return nil
	})
	if err != nil {
		return RevertResult{}, err
	}

	e.logger.InfoContext(ctx, "composition reverted",
		"composition_id", id,
		"from_version", result.RevertDetails.FromVersion,
		"to_version", target,
		"new_version", result.RevertDetails.NewVersionNumber,
	)
	return result, nil
}

// VersionStats summarizes a composition's retained history.
type VersionStats struct {
	CompositionID     uuid.UUID  `json:"composition_id"`
	TotalVersions     int        `json:"total_versions"`
	LastModified      *time.Time `json:"last_modified"`
	UniqueEditors     int        `json:"unique_editors"`
	PublishedVersions int        `json:"published_versions"`
	ModifiedVersions  int        `json:"modified_versions"`
}

func (e *Engine) GetVersionStats(ctx context.Context, id uuid.UUID) (VersionStats, error) {
	if _, err := e.compositions.GetByID(ctx, id); err != nil {
		return VersionStats{}, err
	}
	list, err := e.versions.ListByComposition(ctx, id)
	if err != nil {
		return VersionStats{}, fmt.Errorf("list versions: %w", err)
	}
	stats := VersionStats{CompositionID: id, TotalVersions: len(list)}
	editors := make(map[string]struct{})
	for _, v := range list {
		editors[v.CreatedBy] = struct{}{}
		if v.IsPublished {
			stats.PublishedVersions++
		}
		if !v.ChangedFields.IsEmpty() {
			stats.ModifiedVersions++
		}
		if stats.LastModified == nil || v.CreatedAt.After(*stats.LastModified) {
			at := v.CreatedAt
			stats.LastModified = &at
		}
	}
	stats.UniqueEditors = len(editors)
	return stats, nil
}

// CleanupResult reports a retention run.
type CleanupResult struct {
	CompositionID   uuid.UUID `json:"composition_id"`
	DeletedVersions int       `json:"deleted_versions"`
	RetentionDays   int       `json:"retention_days"`
}

// CleanupOldVersions deletes unpublished snapshots older than retentionDays.
// Published snapshots are always kept.
func (e *Engine) CleanupOldVersions(ctx context.Context, id uuid.UUID, retentionDays int) (result CleanupResult, err error) {
	ctx, span := e.tracer.Start(ctx, "versioning.CleanupOldVersions", trace.WithAttributes(
		attribute.String("composition.id", id.String()),
		attribute.Int("retention_days", retentionDays),
	))
	defer func() { tracing.End(span, err) }()

	if retentionDays <= 0 {
		return CleanupResult{}, domain.NewValidationError("retention_days", "must be a positive integer")
	}
	if _, err := e.compositions.GetByID(ctx, id); err != nil {
		return CleanupResult{}, err
	}
	cutoff := e.now().AddDate(0, 0, -retentionDays)
	deleted, err := e.versions.DeleteUnpublishedBefore(ctx, id, cutoff)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete old versions: %w", err)
	}
	if deleted > 0 {
		e.logger.InfoContext(ctx, "old versions removed", "composition_id", id, "deleted", deleted, "retention_days", retentionDays)
	}
	return CleanupResult{CompositionID: id, DeletedVersions: deleted, RetentionDays: retentionDays}, nil
}

// GetModifiedSince lists compositions with at least one version created at or
// after since, most recently modified first.
func (e *Engine) GetModifiedSince(ctx context.Context, since time.Time) ([]domain.ModifiedComposition, error) {
	list, err := e.compositions.ModifiedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list modified compositions: %w", err)
	}
	if len(list) == 0 {
		return []domain.ModifiedComposition{}, nil
	}

	ids := make([]uuid.UUID, 0, len(list))
	seen := make(map[uuid.UUID]struct{}, len(list))
	for _, m := range list {
		if _, dup := seen[m.TemplateID]; !dup {
			seen[m.TemplateID] = struct{}{}
			ids = append(ids, m.TemplateID)
		}
	}
	names, err := e.templateNames(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].TemplateName = names[list[i].TemplateID]
	}
	return list, nil
}

// checkCompliance rejects asset map keys that are not canonical roles, then
// turns a failed template validation into a ComplianceViolation. Findings that
// do not block the write are returned as warnings.
func (e *Engine) checkCompliance(ctx context.Context, templateID uuid.UUID, assets map[string]string) ([]string, error) {
	keys := make([]string, 0, len(assets))
	for role := range assets {
		if strings.TrimSpace(role) != "" {
			keys = append(keys, role)
		}
	}
	if unknown := e.registry.Unknown(keys); len(unknown) > 0 {
		return nil, domain.NewValidationError("asset_map", "unknown roles: %s", strings.Join(unknown, ", "))
	}

	result, err := e.validator.ValidateAssetMap(ctx, templateID, assets)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		missing := make([]string, 0, len(result.Errors))
		for _, msg := range result.Errors {
			missing = append(missing, strings.TrimSuffix(msg, " missing"))
		}
		return nil, &domain.ComplianceViolation{TemplateID: templateID, Missing: missing, Errors: result.Errors}
	}
	if len(result.Warnings) == 0 {
		return nil, nil
	}
	return result.Warnings, nil
}

// advance moves next to the version after current and persists it. It fails
// with an IntegrityError if stored history is already ahead of current.
func (e *Engine) advance(ctx context.Context, tx repository.CompositionTx, current, next domain.Composition, author string) (domain.Composition, error) {
	latest, err := tx.MaxVersionNumber(ctx, current.ID)
	if err != nil {
		return domain.Composition{}, fmt.Errorf("read latest version: %w", err)
	}
	if latest > current.CurrentVersion {
		ierr := &domain.IntegrityError{
			CompositionID: current.ID,
			VersionNumber: current.CurrentVersion + 1,
			Err:           fmt.Errorf("stored history is at version %d", latest),
		}
		e.logger.ErrorContext(ctx, "version integrity violated", "composition_id", current.ID, "current_version", current.CurrentVersion, "latest_snapshot", latest)
		return domain.Composition{}, ierr
	}

	now := e.now()
	next.CurrentVersion = current.CurrentVersion + 1
	next.LastModifiedBy = author
	next.LastModifiedAt = now
	next.UpdatedAt = now
	if err := tx.Update(ctx, next); err != nil {
		return domain.Composition{}, fmt.Errorf("update composition: %w", err)
	}
	return next, nil
}

func (e *Engine) recordVersion(ctx context.Context, tx repository.CompositionTx, c domain.Composition, summary string, changes domain.ChangedFields, author string, at time.Time) (domain.CompositionVersion, error) {
	version, err := domain.NewCompositionVersion(c, summary, changes, author, at)
	if err != nil {
		return domain.CompositionVersion{}, fmt.Errorf("build version: %w", err)
	}
	stored, err := tx.InsertVersion(ctx, version)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrity) {
			e.logger.ErrorContext(ctx, "version integrity violated", "composition_id", c.ID, "version", c.CurrentVersion, "error", err)
			return domain.CompositionVersion{}, err
		}
		return domain.CompositionVersion{}, fmt.Errorf("insert version: %w", err)
	}
	return stored, nil
}

func refOf(v domain.CompositionVersion) VersionRef {
	return VersionRef{Number: v.VersionNumber, CreatedAt: v.CreatedAt, CreatedBy: v.CreatedBy, Snapshot: v.Snapshot}
}

func touchesContract(changes map[string]domain.FieldChange) bool {
	for key := range changes {
		if key == "template_id" || strings.HasPrefix(key, "asset_map") {
			return true
		}
	}
	return false
}

// summarize names the tracked fields a change touched, e.g.
// "Updated asset_map, status".
func summarize(changes map[string]domain.FieldChange) string {
	if len(changes) == 0 {
		return "No changes"
	}
	fields := make(map[string]struct{})
	for key := range changes {
		field, _, _ := strings.Cut(key, ".")
		fields[field] = struct{}{}
	}
	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)
	return "Updated " + strings.Join(names, ", ")
}

func actor(ctx context.Context, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	return auth.ActorOrSystem(ctx)
}
