package templateloader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/thumbforge/internal/domain"
	"github.com/rpattn/thumbforge/internal/repository"
)

type TemplateLoader struct {
	Loader *dataloader.Loader
}

// NewTemplateLoader batches template lookups by id. Missing templates resolve
// to a nil result rather than an error.
func NewTemplateLoader(repo repository.TemplateRepository) *TemplateLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return failAll(len(keys), fmt.Errorf("invalid UUID: %w", err))
			}
			ids[i] = id
		}

		templates, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			return failAll(len(keys), err)
		}

		byID := make(map[uuid.UUID]domain.Template, len(templates))
		for _, t := range templates {
			byID[t.ID] = t
		}

		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if t, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: t}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))
	return &TemplateLoader{Loader: loader}
}

// LoadNames resolves template names for ids in one batch. Unknown ids are
// absent from the result.
func LoadNames(ctx context.Context, loader *dataloader.Loader, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}
	values, errs := loader.LoadMany(ctx, keys)()
	names := make(map[uuid.UUID]string, len(ids))
	for i, value := range values {
		if len(errs) > i && errs[i] != nil {
			return nil, fmt.Errorf("load template %s: %w", ids[i], errs[i])
		}
		if t, ok := value.(domain.Template); ok {
			names[t.ID] = t.Name
		}
	}
	return names, nil
}

func failAll(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}
