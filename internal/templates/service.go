package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpattn/thumbforge/internal/cachemanager"
	"github.com/rpattn/thumbforge/internal/domain"
	"github.com/rpattn/thumbforge/internal/repository"
	"github.com/rpattn/thumbforge/internal/roles"
	"github.com/rpattn/thumbforge/internal/tracing"
)

// Service resolves templates and checks compositions against their role contract.
type Service struct {
	templates    repository.TemplateRepository
	compositions repository.CompositionRepository
	registry     *roles.Registry

	cache    *cachemanager.InMemoryCacheManager[domain.Template]
	cacheTTL time.Duration

	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithCacheTTL sets how long GetByID results are cached. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.cacheTTL = ttl
	}
}

func WithRegistry(registry *roles.Registry) Option {
	return func(s *Service) {
		if registry != nil {
			s.registry = registry
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(templates repository.TemplateRepository, compositions repository.CompositionRepository, opts ...Option) *Service {
	service := &Service{
		templates:    templates,
		compositions: compositions,
		registry:     roles.Default(),
		cacheTTL:     cachemanager.DefaultExpiration,
		tracer:       tracing.Noop().Tracer(),
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.cacheTTL > 0 {
		service.cache = cachemanager.NewInMemoryCacheManager[domain.Template]("templates", service.cacheTTL, 2*service.cacheTTL)
	}
	return service
}

// Registry exposes the role table the service validates against.
func (s *Service) Registry() *roles.Registry {
	return s.registry
}

// CreateInput describes a new template.
type CreateInput struct {
	ShowID          *uuid.UUID        `json:"show_id"`
	Name            string            `json:"name"`
	Version         int               `json:"version"`
	RequiredRoles   []string          `json:"required_roles"`
	OptionalRoles   []string          `json:"optional_roles"`
	PairedRoles     map[string]string `json:"paired_roles"`
	LayoutConfig    map[string]any    `json:"layout_config"`
	FormatOverrides map[string]any    `json:"format_overrides"`
	TextLayers      []map[string]any  `json:"text_layers"`
	IsActive        *bool             `json:"is_active"`
}

// Patch overrides definitional fields of an existing template. Nil fields are
// left untouched.
type Patch struct {
	Name            *string           `json:"name"`
	Version         *int              `json:"version"`
	RequiredRoles   []string          `json:"required_roles"`
	OptionalRoles   []string          `json:"optional_roles"`
	PairedRoles     map[string]string `json:"paired_roles"`
	LayoutConfig    map[string]any    `json:"layout_config"`
	FormatOverrides map[string]any    `json:"format_overrides"`
	TextLayers      []map[string]any  `json:"text_layers"`
	IsActive        *bool             `json:"is_active"`
}

func (p Patch) apply(t domain.Template) domain.Template {
	out := t.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Version != nil {
		out.Version = *p.Version
	}
	if p.RequiredRoles != nil {
		out.RequiredRoles = append([]string(nil), p.RequiredRoles...)
	}
	if p.OptionalRoles != nil {
		out.OptionalRoles = append([]string(nil), p.OptionalRoles...)
	}
	if p.PairedRoles != nil {
		out.PairedRoles = p.PairedRoles
	}
	if p.LayoutConfig != nil {
		out.LayoutConfig = p.LayoutConfig
	}
	if p.FormatOverrides != nil {
		out.FormatOverrides = p.FormatOverrides
	}
	if p.TextLayers != nil {
		out.TextLayers = p.TextLayers
	}
	if p.IsActive != nil {
		out.IsActive = *p.IsActive
	}
	return out.Clone()
}

// GetActiveForShow lists active templates for a show plus global ones,
// show-specific first. Versions are not deduplicated.
func (s *Service) GetActiveForShow(ctx context.Context, showID uuid.UUID) ([]domain.Template, error) {
	if showID == uuid.Nil {
		return nil, domain.NewValidationError("show_id", "is required")
	}
	list, err := s.templates.ListActive(ctx, &showID)
	if err != nil {
		return nil, fmt.Errorf("list templates for show: %w", err)
	}
	return list, nil
}

func (s *Service) GetGlobalTemplates(ctx context.Context) ([]domain.Template, error) {
	list, err := s.templates.ListActive(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list global templates: %w", err)
	}
	return list, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (domain.Template, error) {
	if s.cache != nil {
		if t, ok := s.cache.Get(ctx, id.String()); ok {
			return t.Clone(), nil
		}
	}
	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return domain.Template{}, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, id.String(), t.Clone(), s.cacheTTL)
	}
	return t, nil
}

// GetLatestVersion returns the highest active version of name. A show-scoped
// lookup falls back to the global scope when the show has no such template.
func (s *Service) GetLatestVersion(ctx context.Context, name string, showID *uuid.UUID) (domain.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Template{}, domain.NewValidationError("name", "is required")
	}
	if showID != nil && *showID != uuid.Nil {
		t, err := s.templates.LatestActive(ctx, name, showID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Template{}, fmt.Errorf("resolve latest template for show: %w", err)
		}
	}
	t, err := s.templates.LatestActive(ctx, name, nil)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Template{}, err
		}
		return domain.Template{}, fmt.Errorf("resolve latest global template: %w", err)
	}
	return t, nil
}

func (s *Service) Create(ctx context.Context, input CreateInput) (created domain.Template, err error) {
	ctx, span := s.tracer.Start(ctx, "templates.Create", trace.WithAttributes(
		attribute.String("template.name", input.Name),
		attribute.Int("template.version", input.Version),
	))
	defer func() { tracing.End(span, err) }()

	if input.LayoutConfig == nil {
		return domain.Template{}, domain.NewValidationError("layout_config", "is required")
	}
	now := s.now()
	t := domain.Template{
		ID:              uuid.New(),
		ShowID:          input.ShowID,
		Name:            strings.TrimSpace(input.Name),
		Version:         input.Version,
		RequiredRoles:   dedupe(input.RequiredRoles),
		OptionalRoles:   dedupe(input.OptionalRoles),
		PairedRoles:     input.PairedRoles,
		LayoutConfig:    input.LayoutConfig,
		FormatOverrides: input.FormatOverrides,
		TextLayers:      input.TextLayers,
		IsActive:        input.IsActive == nil || *input.IsActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if t.OptionalRoles == nil {
		t.OptionalRoles = []string{}
	}
	if err := s.validateDefinition(t); err != nil {
		return domain.Template{}, err
	}
	if err := s.ensureVersionFree(ctx, t); err != nil {
		return domain.Template{}, err
	}

	created, err = s.templates.Create(ctx, t)
	if err != nil {
		return domain.Template{}, err
	}
	s.logger.InfoContext(ctx, "template created", "template_id", created.ID, "name", created.Name, "version", created.Version)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (updated domain.Template, err error) {
	ctx, span := s.tracer.Start(ctx, "templates.Update", trace.WithAttributes(attribute.String("template.id", id.String())))
	defer func() { tracing.End(span, err) }()

	current, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return domain.Template{}, err
	}
	next := patch.apply(current)
	next.Name = strings.TrimSpace(next.Name)
	next.RequiredRoles = dedupe(next.RequiredRoles)
	next.OptionalRoles = dedupe(next.OptionalRoles)
	next.UpdatedAt = s.now()
	if err := s.validateDefinition(next); err != nil {
		return domain.Template{}, err
	}

	updated, err = s.templates.Update(ctx, next)
	s.invalidate(ctx, id)
	if err != nil {
		return domain.Template{}, err
	}
	return updated, nil
}

// Deactivate hides a template from active lookups while keeping the row for
// compositions that still reference it.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	err := s.templates.SetActive(ctx, id, false)
	s.invalidate(ctx, id)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "template deactivated", "template_id", id)
	return nil
}

// Delete removes a template that no composition references.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.tracer.Start(ctx, "templates.Delete", trace.WithAttributes(attribute.String("template.id", id.String())))
	defer func() { tracing.End(span, err) }()

	if _, err := s.templates.GetByID(ctx, id); err != nil {
		return err
	}
	inUse, err := s.compositions.CountByTemplate(ctx, id)
	if err != nil {
		return fmt.Errorf("count template references: %w", err)
	}
	if inUse > 0 {
		return domain.NewValidationError("template", "is used by %d composition(s); deactivate it instead", inUse)
	}
	err = s.templates.Delete(ctx, id)
	s.invalidate(ctx, id)
	return err
}

// ValidateComposition checks bindings against the template's role contract.
// Every required role without a non-empty asset is one blocking error; roles
// the template does not declare are warnings.
func (s *Service) ValidateComposition(ctx context.Context, templateID uuid.UUID, bindings []domain.AssetBinding) (result domain.ValidationResult, err error) {
	ctx, span := s.tracer.Start(ctx, "templates.ValidateComposition", trace.WithAttributes(attribute.String("template.id", templateID.String())))
	defer func() { tracing.End(span, err) }()

	t, err := s.GetByID(ctx, templateID)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	result = CheckBindings(t, bindings)
	span.SetAttributes(attribute.Bool("validation.valid", result.Valid), attribute.Int("validation.errors", len(result.Errors)))
	return result, nil
}

// ValidateAssetMap is ValidateComposition over a role to asset map.
func (s *Service) ValidateAssetMap(ctx context.Context, templateID uuid.UUID, assets map[string]string) (domain.ValidationResult, error) {
	return s.ValidateComposition(ctx, templateID, domain.BindingsFromMap(assets))
}

// CheckBindings is the pure role-contract check used by ValidateComposition.
func CheckBindings(t domain.Template, bindings []domain.AssetBinding) domain.ValidationResult {
	bound := make(map[string]bool)
	var provided []string
	for _, b := range bindings {
		role := strings.TrimSpace(b.Role)
		if role == "" {
			continue
		}
		if _, seen := bound[role]; !seen {
			provided = append(provided, role)
			bound[role] = false
		}
		if strings.TrimSpace(b.AssetID) != "" {
			bound[role] = true
		}
	}

	result := domain.ValidationResult{Errors: []string{}, Warnings: []string{}}
	for _, role := range t.RequiredRoles {
		if !bound[role] {
			result.Errors = append(result.Errors, role+" missing")
		}
	}

	declared := make(map[string]struct{}, len(t.RequiredRoles)+len(t.OptionalRoles))
	for _, role := range t.AllRoles() {
		declared[role] = struct{}{}
	}
	for _, role := range provided {
		if _, ok := declared[role]; !ok {
			result.Warnings = append(result.Warnings, "Unknown role provided: "+role)
		}
	}

	pairs := make([]string, 0, len(t.PairedRoles))
	for role := range t.PairedRoles {
		pairs = append(pairs, role)
	}
	sort.Strings(pairs)
	for _, role := range pairs {
		partner := t.PairedRoles[role]
		switch {
		case bound[role] && !bound[partner]:
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s is paired with %s, which is not bound", role, partner))
		case bound[partner] && !bound[role]:
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s is paired with %s, which is not bound", partner, role))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// CloneAsNewVersion copies a template's definition to a new active row at
// newVersion, applying overrides. The source is left untouched.
func (s *Service) CloneAsNewVersion(ctx context.Context, id uuid.UUID, newVersion int, overrides Patch) (clone domain.Template, err error) {
	ctx, span := s.tracer.Start(ctx, "templates.CloneAsNewVersion", trace.WithAttributes(
		attribute.String("template.id", id.String()),
		attribute.Int("template.new_version", newVersion),
	))
	defer func() { tracing.End(span, err) }()

	source, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return domain.Template{}, err
	}
	overrides.Version = nil
	overrides.IsActive = nil

	clone = overrides.apply(source)
	now := s.now()
	clone.ID = uuid.New()
	clone.Version = newVersion
	clone.IsActive = true
	clone.CreatedAt = now
	clone.UpdatedAt = now
	clone.RequiredRoles = dedupe(clone.RequiredRoles)
	clone.OptionalRoles = dedupe(clone.OptionalRoles)
	if err := s.validateDefinition(clone); err != nil {
		return domain.Template{}, err
	}
	if err := s.ensureVersionFree(ctx, clone); err != nil {
		return domain.Template{}, err
	}

	clone, err = s.templates.Create(ctx, clone)
	if err != nil {
		return domain.Template{}, err
	}
	s.logger.InfoContext(ctx, "template cloned", "source_id", id, "template_id", clone.ID, "version", newVersion)
	return clone, nil
}

// TemplateRole is one role declared by a template with its canonical config.
type TemplateRole struct {
	Key      string     `json:"key"`
	Required bool       `json:"required"`
	Config   roles.Role `json:"config"`
}

func (s *Service) GetAllRoles(ctx context.Context, id uuid.UUID) ([]TemplateRole, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]TemplateRole, 0, len(t.RequiredRoles)+len(t.OptionalRoles))
	for i, key := range t.AllRoles() {
		cfg, _ := s.registry.RoleConfig(key)
		out = append(out, TemplateRole{Key: key, Required: i < len(t.RequiredRoles), Config: cfg})
	}
	return out, nil
}

// GetTemplatesUsingRole lists active templates declaring role.
func (s *Service) GetTemplatesUsingRole(ctx context.Context, role string) ([]domain.Template, error) {
	if !s.registry.IsValidRole(role) {
		return nil, domain.NewValidationError("role", "%q is not a canonical role", role)
	}
	list, err := s.templates.ListUsingRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("list templates using role: %w", err)
	}
	return list, nil
}

// GetUsageStats aggregates compositions built from the template by their
// last rendering outcome.
func (s *Service) GetUsageStats(ctx context.Context, id uuid.UUID) (domain.UsageStats, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return domain.UsageStats{}, err
	}
	counts, err := s.compositions.GenerationCounts(ctx, id)
	if err != nil {
		return domain.UsageStats{}, fmt.Errorf("aggregate usage: %w", err)
	}
	stats := domain.UsageStats{
		TemplateID: id,
		Completed:  counts[domain.GenerationCompleted],
		Failed:     counts[domain.GenerationFailed],
	}
	for _, n := range counts {
		stats.Total += n
	}
	if stats.Total > 0 {
		stats.SuccessRate = math.Round(float64(stats.Completed)/float64(stats.Total)*100) / 100
	}
	return stats, nil
}

func (s *Service) validateDefinition(t domain.Template) error {
	if t.Name == "" {
		return domain.NewValidationError("name", "is required")
	}
	if t.Version <= 0 {
		return domain.NewValidationError("version", "must be a positive integer")
	}
	if len(t.RequiredRoles) == 0 {
		return domain.NewValidationError("required_roles", "must be a non-empty array")
	}
	if t.LayoutConfig == nil {
		return domain.NewValidationError("layout_config", "is required")
	}

	roleKeys := t.AllRoles()
	for role, partner := range t.PairedRoles {
		roleKeys = append(roleKeys, role, partner)
	}
	if unknown := s.registry.Unknown(roleKeys); len(unknown) > 0 {
		return domain.NewValidationError("roles", "unknown roles: %s", strings.Join(unknown, ", "))
	}

	required := make(map[string]struct{}, len(t.RequiredRoles))
	for _, role := range t.RequiredRoles {
		required[role] = struct{}{}
	}
	var overlap []string
	for _, role := range t.OptionalRoles {
		if _, ok := required[role]; ok {
			overlap = append(overlap, role)
		}
	}
	if len(overlap) > 0 {
		return domain.NewValidationError("optional_roles", "roles cannot be both required and optional: %s", strings.Join(overlap, ", "))
	}
	return nil
}

func (s *Service) ensureVersionFree(ctx context.Context, t domain.Template) error {
	exists, err := s.templates.ExistsVersion(ctx, t.Name, t.Version, t.ShowID)
	if err != nil {
		return fmt.Errorf("check template version: %w", err)
	}
	if exists {
		return domain.NewValidationError("version", "template %q version %d already exists in this scope", t.Name, t.Version)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID) {
	if s.cache != nil {
		s.cache.Delete(ctx, id.String())
	}
}

func dedupe(list []string) []string {
	if list == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, item := range list {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
