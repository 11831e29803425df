package templateloader

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/thumbforge/internal/domain"
	"github.com/rpattn/thumbforge/internal/repository/memstore"
)

func TestLoadNames(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	now := time.Now().UTC()

	tmpl, err := store.Templates().Create(ctx, domain.Template{
		ID:            uuid.New(),
		Name:          "default",
		Version:       1,
		RequiredRoles: []string{"BG.MAIN"},
		LayoutConfig:  map[string]any{},
		IsActive:      true,
		CreatedAt:     now,
	})
	require.NoError(t, err)

	loader := NewTemplateLoader(store.Templates())
	missing := uuid.New()
	names, err := LoadNames(ctx, loader.Loader, []uuid.UUID{tmpl.ID, missing})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]string{tmpl.ID: "default"}, names)
}
