package middleware

import (
	"context"
	"net/http"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/thumbforge/internal/repository"
	"github.com/rpattn/thumbforge/internal/templateloader"
)

type ctxKey string

const templateLoaderKey ctxKey = "templateLoader"

// DataLoaderMiddleware attaches a request-scoped template loader to the context.
func DataLoaderMiddleware(repo repository.TemplateRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := templateloader.NewTemplateLoader(repo)
			ctx := ContextWithTemplateLoader(r.Context(), loader.Loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ContextWithTemplateLoader(ctx context.Context, loader *dataloader.Loader) context.Context {
	return context.WithValue(ctx, templateLoaderKey, loader)
}

// TemplateLoaderFromContext retrieves the dataloader from context
func TemplateLoaderFromContext(ctx context.Context) *dataloader.Loader {
	if l, ok := ctx.Value(templateLoaderKey).(*dataloader.Loader); ok {
		return l
	}
	return nil
}
