package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/thumbforge/internal/domain"
)

const templateColumns = `id, show_id, name, version, required_roles, optional_roles, paired_roles,
	layout_config, format_overrides, text_layers, is_active, created_at, updated_at`

type templateRepository struct {
	pool *pgxpool.Pool
}

// NewTemplateRepository creates a new Postgres-backed template repository
func NewTemplateRepository(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepository{pool: pool}
}

func (r *templateRepository) Create(ctx context.Context, t domain.Template) (domain.Template, error) {
	paired, layout, overrides, layers, err := encodeTemplateJSON(t)
	if err != nil {
		return domain.Template{}, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO thumbnail_templates (id, show_id, name, version, required_roles, optional_roles,
			paired_roles, layout_config, format_overrides, text_layers, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING `+templateColumns,
		t.ID, nullableUUID(t.ShowID), t.Name, t.Version, t.RequiredRoles, t.OptionalRoles,
		paired, layout, overrides, layers, t.IsActive, t.CreatedAt,
	)
	created, err := scanTemplate(row)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return domain.Template{}, domain.NewValidationError("version", "template %q version %d already exists in this scope", t.Name, t.Version)
		}
		return domain.Template{}, fmt.Errorf("failed to create template: %w", err)
	}
	return created, nil
}

func (r *templateRepository) Update(ctx context.Context, t domain.Template) (domain.Template, error) {
	paired, layout, overrides, layers, err := encodeTemplateJSON(t)
	if err != nil {
		return domain.Template{}, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE thumbnail_templates
		SET show_id = $2, name = $3, version = $4, required_roles = $5, optional_roles = $6,
			paired_roles = $7, layout_config = $8, format_overrides = $9, text_layers = $10,
			is_active = $11, updated_at = $12
		WHERE id = $1
		RETURNING `+templateColumns,
		t.ID, nullableUUID(t.ShowID), t.Name, t.Version, t.RequiredRoles, t.OptionalRoles,
		paired, layout, overrides, layers, t.IsActive, t.UpdatedAt,
	)
	updated, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Template{}, domain.NewNotFoundError("template", t.ID)
		}
		if _, ok := uniqueConstraint(err); ok {
			return domain.Template{}, domain.NewValidationError("version", "template %q version %d already exists in this scope", t.Name, t.Version)
		}
		return domain.Template{}, fmt.Errorf("failed to update template: %w", err)
	}
	return updated, nil
}

func (r *templateRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Template, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM thumbnail_templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Template{}, domain.NewNotFoundError("template", id)
		}
		return domain.Template{}, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

func (r *templateRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Template, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+templateColumns+` FROM thumbnail_templates WHERE id = ANY($1)`, ids)
}

func (r *templateRepository) ListActive(ctx context.Context, showID *uuid.UUID) ([]domain.Template, error) {
	return r.list(ctx, `
		SELECT `+templateColumns+`
		FROM thumbnail_templates
		WHERE is_active AND (show_id IS NULL OR ($1::uuid IS NOT NULL AND show_id = $1))
		ORDER BY (show_id IS NULL), name ASC, version DESC`,
		nullableUUID(showID),
	)
}

func (r *templateRepository) LatestActive(ctx context.Context, name string, showID *uuid.UUID) (domain.Template, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM thumbnail_templates
		WHERE is_active AND name = $1 AND show_id IS NOT DISTINCT FROM $2
		ORDER BY version DESC
		LIMIT 1`,
		name, nullableUUID(showID),
	)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Template{}, domain.NewNotFoundError("template", name)
		}
		return domain.Template{}, fmt.Errorf("failed to get latest template version: %w", err)
	}
	return t, nil
}

func (r *templateRepository) ExistsVersion(ctx context.Context, name string, version int, showID *uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM thumbnail_templates
			WHERE name = $1 AND version = $2 AND show_id IS NOT DISTINCT FROM $3
		)`, name, version, nullableUUID(showID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check template version: %w", err)
	}
	return exists, nil
}

func (r *templateRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE thumbnail_templates SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set template active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("template", id)
	}
	return nil
}

func (r *templateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM thumbnail_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("template", id)
	}
	return nil
}

func (r *templateRepository) ListUsingRole(ctx context.Context, role string) ([]domain.Template, error) {
	return r.list(ctx, `
		SELECT `+templateColumns+`
		FROM thumbnail_templates
		WHERE is_active AND ($1 = ANY(required_roles) OR $1 = ANY(optional_roles))
		ORDER BY name ASC, version DESC`,
		role,
	)
}

func (r *templateRepository) list(ctx context.Context, sql string, args ...any) ([]domain.Template, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}
	return out, nil
}

func encodeTemplateJSON(t domain.Template) (paired, layout, overrides, layers []byte, err error) {
	if paired, err = marshalJSONB(t.PairedRoles, "{}"); err != nil {
		return
	}
	if layout, err = marshalJSONB(t.LayoutConfig, "{}"); err != nil {
		return
	}
	if overrides, err = marshalJSONB(t.FormatOverrides, "{}"); err != nil {
		return
	}
	layers, err = marshalJSONB(t.TextLayers, "[]")
	return
}

func scanTemplate(row pgx.Row) (domain.Template, error) {
	var (
		t                                   domain.Template
		showID                              pgtype.UUID
		paired, layout, overrides, textJSON []byte
	)
	if err := row.Scan(
		&t.ID, &showID, &t.Name, &t.Version, &t.RequiredRoles, &t.OptionalRoles, &paired,
		&layout, &overrides, &textJSON, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return domain.Template{}, err
	}
	t.ShowID = uuidPointer(showID)
	if err := unmarshalJSONB(paired, &t.PairedRoles); err != nil {
		return domain.Template{}, err
	}
	if err := unmarshalJSONB(layout, &t.LayoutConfig); err != nil {
		return domain.Template{}, err
	}
	if err := unmarshalJSONB(overrides, &t.FormatOverrides); err != nil {
		return domain.Template{}, err
	}
	if err := unmarshalJSONB(textJSON, &t.TextLayers); err != nil {
		return domain.Template{}, err
	}
	if len(t.PairedRoles) == 0 {
		t.PairedRoles = nil
	}
	if len(t.FormatOverrides) == 0 {
		t.FormatOverrides = nil
	}
	if len(t.TextLayers) == 0 {
		t.TextLayers = nil
	}
	return t, nil
}
