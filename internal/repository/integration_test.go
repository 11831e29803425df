package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/thumbforge/internal/db"
	"github.com/rpattn/thumbforge/internal/domain"
	"github.com/rpattn/thumbforge/internal/repository"
	"github.com/rpattn/thumbforge/internal/roles"
	"github.com/rpattn/thumbforge/internal/templates"
	"github.com/rpattn/thumbforge/internal/versioning"
)

// openTestDatabase connects to THUMBFORGE_TEST_DATABASE_URL, applies the
// schema and empties the tables. The test is skipped when the variable is unset.
func openTestDatabase(t *testing.T) *db.Connection {
	t.Helper()
	url := os.Getenv("THUMBFORGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("THUMBFORGE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.RunMigrations(pool, db.Up))
	_, err = pool.Exec(ctx, `TRUNCATE composition_versions, thumbnail_compositions, thumbnail_templates CASCADE`)
	require.NoError(t, err)
	return &db.Connection{Pool: pool}
}

func TestPostgresCompositionHistory(t *testing.T) {
	conn := openTestDatabase(t)
	ctx := context.Background()
	templates := repository.NewTemplateRepository(conn.Pool)
	compositions := repository.NewCompositionRepository(conn)
	versions := repository.NewVersionRepository(conn.Pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	tmpl, err := templates.Create(ctx, domain.Template{
		ID:            uuid.New(),
		Name:          "default",
		Version:       1,
		RequiredRoles: []string{roles.HostLala, roles.Background},
		OptionalRoles: []string{},
		LayoutConfig:  map[string]any{"width": 1920.0},
		IsActive:      true,
		CreatedAt:     now,
	})
	require.NoError(t, err)

	_, err = templates.Create(ctx, domain.Template{
		ID:            uuid.New(),
		Name:          "default",
		Version:       1,
		RequiredRoles: []string{roles.Background},
		OptionalRoles: []string{},
		LayoutConfig:  map[string]any{},
		IsActive:      true,
		CreatedAt:     now,
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	c := domain.Composition{
		ID:               uuid.New(),
		TemplateID:       tmpl.ID,
		Name:             "Episode 1",
		Status:           domain.StatusDraft,
		AssetMap:         map[string]string{roles.HostLala: "lala", roles.Background: "bg"},
		SelectedFormats:  []string{"YOUTUBE"},
		GenerationStatus: domain.GenerationPending,
		CurrentVersion:   1,
		LastModifiedBy:   "editor",
		LastModifiedAt:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	version := func(n int, at time.Time, published bool) domain.CompositionVersion {
		snap := c.Snapshot()
		hash, err := domain.VersionHash(c.ID, n, snap)
		require.NoError(t, err)
		return domain.CompositionVersion{
			CompositionID: c.ID,
			VersionNumber: n,
			VersionHash:   hash,
			ChangeSummary: "Initial version",
			CreatedBy:     "editor",
			CreatedAt:     at,
			IsPublished:   published,
			Snapshot:      snap,
		}
	}

	err = compositions.WithinTx(ctx, func(tx repository.CompositionTx) error {
		if err := tx.Insert(ctx, c); err != nil {
			return err
		}
		if _, err := tx.InsertVersion(ctx, version(1, now.AddDate(0, 0, -200), false)); err != nil {
			return err
		}
		_, err := tx.InsertVersion(ctx, version(2, now, true))
		return err
	})
	require.NoError(t, err)

	err = compositions.WithinTx(ctx, func(tx repository.CompositionTx) error {
		locked, err := tx.Lock(ctx, c.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, c.AssetMap, locked.AssetMap)
		max, err := tx.MaxVersionNumber(ctx, c.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, max)
		_, err = tx.InsertVersion(ctx, version(2, now, false))
		return err
	})
	var integrity *domain.IntegrityError
	require.True(t, errors.As(err, &integrity), "duplicate version must surface as an integrity error, got %v", err)

	list, err := versions.ListByComposition(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].VersionNumber)
	assert.Equal(t, c.AssetMap, list[1].Snapshot.AssetMap)

	count, err := compositions.CountByTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	deleted, err := versions.DeleteUnpublishedBefore(ctx, c.ID, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	modified, err := compositions.ModifiedSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, modified, 1)
	assert.Equal(t, 1, modified[0].VersionsInRange)

	_, err = versions.Get(ctx, c.ID, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresConcurrentUpdatesSerialize(t *testing.T) {
	conn := openTestDatabase(t)
	ctx := context.Background()
	templateRepo := repository.NewTemplateRepository(conn.Pool)
	compositions := repository.NewCompositionRepository(conn)
	versions := repository.NewVersionRepository(conn.Pool)

	svc := templates.NewService(templateRepo, compositions)
	engine := versioning.NewEngine(svc, templateRepo, compositions, versions)

	tmpl, err := svc.Create(ctx, templates.CreateInput{
		Name:          "default",
		Version:       1,
		RequiredRoles: []string{roles.HostLala, roles.Background},
		LayoutConfig:  map[string]any{"width": 1920.0},
	})
	require.NoError(t, err)
	c, err := engine.CreateComposition(ctx, versioning.CreateInput{
		TemplateID: tmpl.ID,
		Name:       "Episode 1",
		AssetMap:   map[string]string{roles.HostLala: "lala", roles.Background: "bg"},
	})
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("Episode 1 take %d", i)
			_, err := engine.UpdateComposition(ctx, c.ID, domain.CompositionPatch{Name: &name}, "writer")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	current, err := engine.GetComposition(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, writers+1, current.CurrentVersion)

	history, err := engine.GetVersionHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history.Versions, writers+1)
	for i, v := range history.Versions {
		assert.Equal(t, writers+1-i, v.VersionNumber)
	}
}
