package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/thumbforge/internal/db"
	"github.com/rpattn/thumbforge/internal/domain"
)

const compositionColumns = `id, template_id, name, status, asset_map, selected_formats, generation_status,
	current_version, last_modified_by, last_modified_at, created_at, updated_at`

const versionColumns = `id, composition_id, version_number, version_hash, change_summary, changed_fields,
	created_by, created_at, is_published, composition_snapshot`

type compositionRepository struct {
	conn *db.Connection
}

// NewCompositionRepository creates a new Postgres-backed composition repository
func NewCompositionRepository(conn *db.Connection) CompositionRepository {
	return &compositionRepository{conn: conn}
}

func (r *compositionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Composition, error) {
	return getComposition(ctx, r.conn.Pool, `SELECT `+compositionColumns+` FROM thumbnail_compositions WHERE id = $1`, id)
}

func (r *compositionRepository) CountByTemplate(ctx context.Context, templateID uuid.UUID) (int, error) {
	var count int
	err := r.conn.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM thumbnail_compositions WHERE template_id = $1`, templateID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count compositions for template: %w", err)
	}
	return count, nil
}

func (r *compositionRepository) GenerationCounts(ctx context.Context, templateID uuid.UUID) (map[domain.GenerationStatus]int, error) {
	rows, err := r.conn.Pool.Query(ctx, `
		SELECT generation_status, COUNT(*)
		FROM thumbnail_compositions
		WHERE template_id = $1
		GROUP BY generation_status`, templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate generation outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.GenerationStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan generation outcome: %w", err)
		}
		counts[domain.GenerationStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate generation outcomes: %w", err)
	}
	return counts, nil
}

func (r *compositionRepository) SetGenerationStatus(ctx context.Context, id uuid.UUID, status domain.GenerationStatus, at time.Time) (domain.Composition, error) {
	return getComposition(ctx, r.conn.Pool, `
		UPDATE thumbnail_compositions
		SET generation_status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+compositionColumns,
		id, string(status), at,
	)
}

func (r *compositionRepository) ModifiedSince(ctx context.Context, since time.Time) ([]domain.ModifiedComposition, error) {
	rows, err := r.conn.Pool.Query(ctx, `
		SELECT c.id, c.name, c.template_id, MAX(v.created_at) AS last_modified, COUNT(v.id) AS version_count
		FROM thumbnail_compositions c
		JOIN composition_versions v ON v.composition_id = c.id
		WHERE v.created_at >= $1
		GROUP BY c.id, c.name, c.template_id
		ORDER BY last_modified DESC`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list modified compositions: %w", err)
	}
	defer rows.Close()

	var out []domain.ModifiedComposition
	for rows.Next() {
		var m domain.ModifiedComposition
		if err := rows.Scan(&m.CompositionID, &m.Name, &m.TemplateID, &m.LastModified, &m.VersionsInRange); err != nil {
			return nil, fmt.Errorf("failed to scan modified composition: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate modified compositions: %w", err)
	}
	return out, nil
}

func (r *compositionRepository) WithinTx(ctx context.Context, fn func(CompositionTx) error) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&compositionTx{tx: tx})
	})
}

type compositionTx struct {
	tx pgx.Tx
}

func (t *compositionTx) Lock(ctx context.Context, id uuid.UUID) (domain.Composition, error) {
	return getComposition(ctx, t.tx, `SELECT `+compositionColumns+` FROM thumbnail_compositions WHERE id = $1 FOR UPDATE`, id)
}

func (t *compositionTx) Insert(ctx context.Context, c domain.Composition) error {
	assets, err := marshalJSONB(c.AssetMap, "{}")
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO thumbnail_compositions (id, template_id, name, status, asset_map, selected_formats,
			generation_status, current_version, last_modified_by, last_modified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.TemplateID, c.Name, string(c.Status), assets, c.SelectedFormats,
		string(c.GenerationStatus), c.CurrentVersion, c.LastModifiedBy, c.LastModifiedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert composition: %w", err)
	}
	return nil
}

func (t *compositionTx) Update(ctx context.Context, c domain.Composition) error {
	assets, err := marshalJSONB(c.AssetMap, "{}")
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE thumbnail_compositions
		SET template_id = $2, name = $3, status = $4, asset_map = $5, selected_formats = $6,
			current_version = $7, last_modified_by = $8, last_modified_at = $9, updated_at = $10
		WHERE id = $1`,
		c.ID, c.TemplateID, c.Name, string(c.Status), assets, c.SelectedFormats,
		c.CurrentVersion, c.LastModifiedBy, c.LastModifiedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update composition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("composition", c.ID)
	}
	return nil
}

func (t *compositionTx) MaxVersionNumber(ctx context.Context, compositionID uuid.UUID) (int, error) {
	var latest int
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM composition_versions WHERE composition_id = $1`,
		compositionID,
	).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest version number: %w", err)
	}
	return latest, nil
}

func (t *compositionTx) InsertVersion(ctx context.Context, v domain.CompositionVersion) (domain.CompositionVersion, error) {
	changes, err := marshalJSONB(v.ChangedFields, "{}")
	if err != nil {
		return domain.CompositionVersion{}, err
	}
	snapshot, err := marshalJSONB(v.Snapshot, "{}")
	if err != nil {
		return domain.CompositionVersion{}, err
	}
	row := t.tx.QueryRow(ctx, `
		INSERT INTO composition_versions (composition_id, version_number, version_hash, change_summary,
			changed_fields, created_by, created_at, is_published, composition_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+versionColumns,
		v.CompositionID, v.VersionNumber, v.VersionHash, v.ChangeSummary,
		changes, v.CreatedBy, v.CreatedAt, v.IsPublished, snapshot,
	)
	inserted, err := scanVersion(row)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return domain.CompositionVersion{}, &domain.IntegrityError{
				CompositionID: v.CompositionID,
				VersionNumber: v.VersionNumber,
				Err:           err,
			}
		}
		return domain.CompositionVersion{}, fmt.Errorf("failed to insert composition version: %w", err)
	}
	return inserted, nil
}

func (t *compositionTx) GetVersion(ctx context.Context, compositionID uuid.UUID, versionNumber int) (domain.CompositionVersion, error) {
	return getVersion(ctx, t.tx, compositionID, versionNumber)
}

func getComposition(ctx context.Context, q dbtx, sql string, args ...any) (domain.Composition, error) {
	var (
		c                  domain.Composition
		status, generation string
		assets             []byte
	)
	err := q.QueryRow(ctx, sql, args...).Scan(
		&c.ID, &c.TemplateID, &c.Name, &status, &assets, &c.SelectedFormats, &generation,
		&c.CurrentVersion, &c.LastModifiedBy, &c.LastModifiedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) && len(args) > 0 {
			return domain.Composition{}, domain.NewNotFoundError("composition", args[0])
		}
		return domain.Composition{}, fmt.Errorf("failed to load composition: %w", err)
	}
	c.Status = domain.CompositionStatus(status)
	c.GenerationStatus = domain.GenerationStatus(generation)
	c.AssetMap = map[string]string{}
	if err := unmarshalJSONB(assets, &c.AssetMap); err != nil {
		return domain.Composition{}, err
	}
	if c.SelectedFormats == nil {
		c.SelectedFormats = []string{}
	}
	return c, nil
}
