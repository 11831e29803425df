package domain

import (
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Template is a versioned contract of required and optional roles plus the
// layout metadata consumed by rendering.
type Template struct {
	ID              uuid.UUID         `json:"id"`
	ShowID          *uuid.UUID        `json:"show_id"`
	Name            string            `json:"name"`
	Version         int               `json:"version"`
	RequiredRoles   []string          `json:"required_roles"`
	OptionalRoles   []string          `json:"optional_roles"`
	PairedRoles     map[string]string `json:"paired_roles,omitempty"`
	LayoutConfig    map[string]any    `json:"layout_config"`
	FormatOverrides map[string]any    `json:"format_overrides,omitempty"`
	TextLayers      []map[string]any  `json:"text_layers,omitempty"`
	IsActive        bool              `json:"is_active"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// IsGlobal reports whether the template applies to every show.
func (t Template) IsGlobal() bool {
	return t.ShowID == nil || *t.ShowID == uuid.Nil
}

// AllRoles returns required roles followed by optional roles.
func (t Template) AllRoles() []string {
	out := make([]string, 0, len(t.RequiredRoles)+len(t.OptionalRoles))
	out = append(out, t.RequiredRoles...)
	return append(out, t.OptionalRoles...)
}

// UsesRole reports whether role is declared required or optional.
func (t Template) UsesRole(role string) bool {
	for _, r := range t.AllRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// LayoutForFormat merges the per-format override on top of the base layout.
func (t Template) LayoutForFormat(format string) map[string]any {
	merged := cloneJSONMap(t.LayoutConfig)
	override, ok := t.FormatOverrides[format].(map[string]any)
	if !ok {
		return merged
	}
	for key, value := range override {
		merged[key] = value
	}
	return merged
}

// Clone deep-copies the template's definitional fields.
func (t Template) Clone() Template {
	out := t
	if t.ShowID != nil {
		id := *t.ShowID
		out.ShowID = &id
	}
	out.RequiredRoles = slices.Clone(t.RequiredRoles)
	out.OptionalRoles = slices.Clone(t.OptionalRoles)
	if t.PairedRoles != nil {
		out.PairedRoles = make(map[string]string, len(t.PairedRoles))
		for k, v := range t.PairedRoles {
			out.PairedRoles[k] = v
		}
	}
	out.LayoutConfig = cloneJSONMap(t.LayoutConfig)
	if t.FormatOverrides != nil {
		out.FormatOverrides = cloneJSONMap(t.FormatOverrides)
	}
	if t.TextLayers != nil {
		out.TextLayers = make([]map[string]any, len(t.TextLayers))
		for i, layer := range t.TextLayers {
			out.TextLayers[i] = cloneJSONMap(layer)
		}
	}
	return out
}

// AssetBinding is one role to asset assignment supplied for validation.
type AssetBinding struct {
	Role    string `json:"role"`
	AssetID string `json:"asset_id"`
}

// BindingsFromMap converts an asset map into bindings ordered by role.
func BindingsFromMap(assets map[string]string) []AssetBinding {
	out := make([]AssetBinding, 0, len(assets))
	for role, asset := range assets {
		out = append(out, AssetBinding{Role: role, AssetID: asset})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// ValidationResult is the outcome of checking bindings against a template.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// UsageStats aggregates compositions built from one template by rendering outcome.
type UsageStats struct {
	TemplateID  uuid.UUID `json:"template_id"`
	Total       int       `json:"total"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	SuccessRate float64   `json:"success_rate"`
}

func cloneJSONMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneJSONValue(value)
	}
	return out
}

func cloneJSONValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneJSONMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneJSONValue(item)
		}
		return out
	default:
		return typed
	}
}
