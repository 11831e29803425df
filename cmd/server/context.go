package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/rpattn/thumbforge/internal/config"
	"github.com/rpattn/thumbforge/internal/db"
	"github.com/rpattn/thumbforge/internal/logging"
	"github.com/rpattn/thumbforge/internal/repository"
	"github.com/rpattn/thumbforge/internal/repository/memstore"
	"github.com/rpattn/thumbforge/internal/templates"
	"github.com/rpattn/thumbforge/internal/tracing"
	"github.com/rpattn/thumbforge/internal/versioning"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// app is the wired service graph shared by serve and the offline commands.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	conn      *db.Connection
	tracing   *tracing.Provider
	repos     repositories
	templates *templates.Service
	engine    *versioning.Engine
}

type repositories struct {
	templates    repository.TemplateRepository
	compositions repository.CompositionRepository
	versions     repository.VersionRepository
}

// openApp builds the service graph. logOut receives structured logs.
func (c *commandContext) openApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOut,
	})
	if err != nil {
		return nil, err
	}

	provider, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, tracing: provider}
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		store := memstore.New()
		a.repos = repositories{store.Templates(), store.Compositions(), store.Versions()}
		logger.Warn("using in-memory storage; data is lost on exit")
	default:
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			_ = provider.Shutdown(ctx)
			return nil, err
		}
		a.conn = conn
		a.repos = repositories{
			templates:    repository.NewTemplateRepository(conn.Pool),
			compositions: repository.NewCompositionRepository(conn),
			versions:     repository.NewVersionRepository(conn.Pool),
		}
	}

	tracer := provider.Tracer()
	a.templates = templates.NewService(a.repos.templates, a.repos.compositions,
		templates.WithCacheTTL(cfg.Templates.CacheTTL),
		templates.WithTracer(tracer),
		templates.WithLogger(logger.With("component", "templates")),
	)
	a.engine = versioning.NewEngine(a.templates, a.repos.templates, a.repos.compositions, a.repos.versions,
		versioning.WithRecordNoopUpdates(cfg.Versioning.RecordNoopUpdates),
		versioning.WithRetentionDays(cfg.Versioning.RetentionDays),
		versioning.WithTracer(tracer),
		versioning.WithLogger(logger.With("component", "versioning")),
	)
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if a.conn != nil {
		a.conn.Close()
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("tracing shutdown failed", "error", err)
	}
}
