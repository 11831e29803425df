package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/thumbforge/internal/domain"
)

type versionRepository struct {
	pool *pgxpool.Pool
}

// NewVersionRepository creates a new Postgres-backed snapshot repository
func NewVersionRepository(pool *pgxpool.Pool) VersionRepository {
	return &versionRepository{pool: pool}
}

func (r *versionRepository) ListByComposition(ctx context.Context, compositionID uuid.UUID) ([]domain.CompositionVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+versionColumns+`
		FROM composition_versions
		WHERE composition_id = $1
		ORDER BY version_number DESC`, compositionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list composition versions: %w", err)
	}
	defer rows.Close()

	var out []domain.CompositionVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan composition version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate composition versions: %w", err)
	}
	return out, nil
}

func (r *versionRepository) Get(ctx context.Context, compositionID uuid.UUID, versionNumber int) (domain.CompositionVersion, error) {
	return getVersion(ctx, r.pool, compositionID, versionNumber)
}

func (r *versionRepository) DeleteUnpublishedBefore(ctx context.Context, compositionID uuid.UUID, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM composition_versions
		WHERE composition_id = $1 AND created_at < $2 AND is_published = FALSE`,
		compositionID, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old composition versions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func getVersion(ctx context.Context, q dbtx, compositionID uuid.UUID, versionNumber int) (domain.CompositionVersion, error) {
	row := q.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM composition_versions
		WHERE composition_id = $1 AND version_number = $2`,
		compositionID, versionNumber,
	)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CompositionVersion{}, domain.NewNotFoundError("composition version", fmt.Sprintf("%s@%d", compositionID, versionNumber))
		}
		return domain.CompositionVersion{}, fmt.Errorf("failed to get composition version: %w", err)
	}
	return v, nil
}

func scanVersion(row pgx.Row) (domain.CompositionVersion, error) {
	var (
		v                 domain.CompositionVersion
		changes, snapshot []byte
	)
	if err := row.Scan(
		&v.ID, &v.CompositionID, &v.VersionNumber, &v.VersionHash, &v.ChangeSummary, &changes,
		&v.CreatedBy, &v.CreatedAt, &v.IsPublished, &snapshot,
	); err != nil {
		return domain.CompositionVersion{}, err
	}
	if err := unmarshalJSONB(changes, &v.ChangedFields); err != nil {
		return domain.CompositionVersion{}, err
	}
	if err := unmarshalJSONB(snapshot, &v.Snapshot); err != nil {
		return domain.CompositionVersion{}, err
	}
	if v.Snapshot.AssetMap == nil {
		v.Snapshot.AssetMap = map[string]string{}
	}
	if v.Snapshot.SelectedFormats == nil {
		v.Snapshot.SelectedFormats = []string{}
	}
	return v, nil
}
