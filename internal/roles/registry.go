package roles

import (
	"sort"
	"strings"
)

// Category groups roles by the kind of asset they accept.
type Category string

const (
	CategoryCharacter Category = "CHAR"
	CategoryUI        Category = "UI"
	CategoryAsset     Category = "ASSET"
	CategoryBG        Category = "BG"
	CategoryText      Category = "TEXT"
	CategoryWardrobe  Category = "WARDROBE"
)

// Size is the default on-canvas footprint of a role in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TextStyle is the default typography applied to text-field roles.
type TextStyle struct {
	FontSize    int    `json:"fontSize"`
	FontFamily  string `json:"fontFamily"`
	FontWeight  string `json:"fontWeight"`
	Color       string `json:"color"`
	TextAlign   string `json:"textAlign"`
	Stroke      string `json:"stroke"`
	StrokeWidth int    `json:"strokeWidth"`
}

// Role describes a canonical asset slot.
type Role struct {
	Key         string     `json:"key"`
	Label       string     `json:"label"`
	Category    Category   `json:"category"`
	Description string     `json:"description"`
	DefaultSize Size       `json:"defaultSize"`
	Required    bool       `json:"required"`
	TextField   bool       `json:"isTextField,omitempty"`
	AutoManaged bool       `json:"autoManaged,omitempty"`
	Style       *TextStyle `json:"defaultStyle,omitempty"`
}

func (r Role) clone() Role {
	if r.Style != nil {
		style := *r.Style
		r.Style = &style
	}
	return r
}

// Registry is the closed table of canonical roles. It has no mutation API;
// every query returns copies so callers cannot alter the shared table.
type Registry struct {
	ordered []Role
	byKey   map[string]Role
}

// NewRegistry builds a registry from the given roles. Duplicate keys keep the
// first definition.
func NewRegistry(defs []Role) *Registry {
	reg := &Registry{
		ordered: make([]Role, 0, len(defs)),
		byKey:   make(map[string]Role, len(defs)),
	}
	for _, def := range defs {
		key := strings.TrimSpace(def.Key)
		if key == "" {
			continue
		}
		if _, exists := reg.byKey[key]; exists {
			continue
		}
		def.Key = key
		reg.ordered = append(reg.ordered, def.clone())
		reg.byKey[key] = def.clone()
	}
	return reg
}

// IsValidRole reports whether key names a canonical role.
func (r *Registry) IsValidRole(key string) bool {
	_, ok := r.byKey[key]
	return ok
}

// RoleConfig returns the definition for key.
func (r *Registry) RoleConfig(key string) (Role, bool) {
	role, ok := r.byKey[key]
	if !ok {
		return Role{}, false
	}
	return role.clone(), true
}

// All returns every role in table order.
func (r *Registry) All() []Role {
	return r.filter(func(Role) bool { return true })
}

// ByCategory returns the roles of one category in table order.
func (r *Registry) ByCategory(category Category) []Role {
	return r.filter(func(role Role) bool { return role.Category == category })
}

// RequiredRoles lists the keys carrying the informational required hint.
func (r *Registry) RequiredRoles() []string {
	return keys(r.filter(func(role Role) bool { return role.Required }))
}

// OptionalRoles lists every key without the required hint.
func (r *Registry) OptionalRoles() []string {
	return keys(r.filter(func(role Role) bool { return !role.Required }))
}

func (r *Registry) TextFieldRoles() []Role {
	return r.filter(func(role Role) bool { return role.TextField })
}

func (r *Registry) AutoManagedRoles() []Role {
	return r.filter(func(role Role) bool { return role.AutoManaged })
}

// Categories returns the distinct categories in first-seen order.
func (r *Registry) Categories() []Category {
	seen := make(map[Category]struct{})
	var out []Category
	for _, role := range r.ordered {
		if _, ok := seen[role.Category]; ok {
			continue
		}
		seen[role.Category] = struct{}{}
		out = append(out, role.Category)
	}
	return out
}

// Unknown returns the sorted, de-duplicated subset of keys not in the registry.
func (r *Registry) Unknown(keys []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, key := range keys {
		if r.IsValidRole(key) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) filter(keep func(Role) bool) []Role {
	out := make([]Role, 0)
	for _, role := range r.ordered {
		if keep(role) {
			out = append(out, role.clone())
		}
	}
	return out
}

func keys(list []Role) []string {
	out := make([]string, len(list))
	for i, role := range list {
		out[i] = role.Key
	}
	return out
}
