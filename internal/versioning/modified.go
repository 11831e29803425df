package versioning

import (
	"context"

	"github.com/google/uuid"

	"github.com/rpattn/thumbforge/internal/middleware"
	"github.com/rpattn/thumbforge/internal/templateloader"
)

// templateNames resolves ids through the request's loader, or a fresh one
// when the call did not come through the HTTP stack.
func (e *Engine) templateNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	loader := middleware.TemplateLoaderFromContext(ctx)
	if loader == nil {
		loader = templateloader.NewTemplateLoader(e.templates).Loader
	}
	return templateloader.LoadNames(ctx, loader, ids)
}
