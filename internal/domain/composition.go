package domain

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CompositionStatus is the editorial state of a composition.
type CompositionStatus string

const (
	StatusDraft     CompositionStatus = "draft"
	StatusReview    CompositionStatus = "review"
	StatusApproved  CompositionStatus = "approved"
	StatusPublished CompositionStatus = "published"
	StatusArchived  CompositionStatus = "archived"
)

var statusOrder = []CompositionStatus{StatusDraft, StatusReview, StatusApproved, StatusPublished, StatusArchived}

func ParseCompositionStatus(value string) (CompositionStatus, bool) {
	status := CompositionStatus(strings.ToLower(strings.TrimSpace(value)))
	return status, status.Valid()
}

func (s CompositionStatus) Valid() bool {
	return slices.Contains(statusOrder, s)
}

func (s CompositionStatus) IsPublished() bool {
	return s == StatusPublished
}

// CanTransitionTo reports whether an ordinary update may move s to next.
// Updates only move forward along the lifecycle; any state may be archived.
// Backward moves happen only by reverting to an earlier snapshot.
func (s CompositionStatus) CanTransitionTo(next CompositionStatus) bool {
	if !next.Valid() {
		return false
	}
	if next == StatusArchived {
		return true
	}
	return slices.Index(statusOrder, next) >= slices.Index(statusOrder, s)
}

// GenerationStatus is the rendering pipeline's last reported outcome.
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "PENDING"
	GenerationProcessing GenerationStatus = "PROCESSING"
	GenerationCompleted  GenerationStatus = "COMPLETED"
	GenerationFailed     GenerationStatus = "FAILED"
)

func ParseGenerationStatus(value string) (GenerationStatus, bool) {
	status := GenerationStatus(strings.ToUpper(strings.TrimSpace(value)))
	switch status {
	case GenerationPending, GenerationProcessing, GenerationCompleted, GenerationFailed:
		return status, true
	}
	return "", false
}

// Composition binds concrete assets to a template's roles.
type Composition struct {
	ID               uuid.UUID         `json:"id"`
	TemplateID       uuid.UUID         `json:"template_id"`
	Name             string            `json:"name"`
	Status           CompositionStatus `json:"status"`
	AssetMap         map[string]string `json:"asset_map"`
	SelectedFormats  []string          `json:"selected_formats"`
	GenerationStatus GenerationStatus  `json:"generation_status"`
	CurrentVersion   int               `json:"current_version"`
	LastModifiedBy   string            `json:"last_modified_by"`
	LastModifiedAt   time.Time         `json:"last_modified_at"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`

	// Warnings holds the non-fatal binding findings of the write that
	// returned this value. It is never persisted.
	Warnings []string `json:"warnings,omitempty"`
}

// Clone returns a copy that shares no mutable state with c.
func (c Composition) Clone() Composition {
	out := c
	out.AssetMap = cloneAssetMap(c.AssetMap)
	out.SelectedFormats = copyFormats(c.SelectedFormats)
	out.Warnings = slices.Clone(c.Warnings)
	return out
}

// Snapshot captures the watch-list fields of c.
func (c Composition) Snapshot() CompositionSnapshot {
	return CompositionSnapshot{
		Name:            c.Name,
		TemplateID:      c.TemplateID,
		AssetMap:        cloneAssetMap(c.AssetMap),
		SelectedFormats: copyFormats(c.SelectedFormats),
		Status:          c.Status,
	}
}

// Restore overwrites every watch-list field of c with the snapshot's values.
func (c *Composition) Restore(snapshot CompositionSnapshot) {
	current := c.Snapshot()
	for _, field := range compositionWatchList {
		field.copy(&current, snapshot)
	}
	c.Name = current.Name
	c.TemplateID = current.TemplateID
	c.AssetMap = cloneAssetMap(current.AssetMap)
	c.SelectedFormats = copyFormats(current.SelectedFormats)
	c.Status = current.Status
}

// CompositionPatch carries the watch-list fields an update may change.
// Nil fields are left untouched; a non-nil AssetMap replaces the whole map and
// empty asset ids unbind their role.
type CompositionPatch struct {
	Name            *string            `json:"name,omitempty"`
	TemplateID      *uuid.UUID         `json:"template_id,omitempty"`
	AssetMap        map[string]string  `json:"asset_map,omitempty"`
	SelectedFormats []string           `json:"selected_formats,omitempty"`
	Status          *CompositionStatus `json:"status,omitempty"`
}

// Apply returns a copy of c with the patch applied.
func (p CompositionPatch) Apply(c Composition) Composition {
	out := c.Clone()
	if p.Name != nil {
		out.Name = strings.TrimSpace(*p.Name)
	}
	if p.TemplateID != nil {
		out.TemplateID = *p.TemplateID
	}
	if p.AssetMap != nil {
		out.AssetMap = cloneAssetMap(p.AssetMap)
	}
	if p.SelectedFormats != nil {
		out.SelectedFormats = normalizeFormats(p.SelectedFormats)
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	return out
}

// NewComposition builds a composition at version 1.
func NewComposition(templateID uuid.UUID, name string, assets map[string]string, formats []string, status CompositionStatus, author string, now time.Time) Composition {
	if status == "" {
		status = StatusDraft
	}
	return Composition{
		ID:               uuid.New(),
		TemplateID:       templateID,
		Name:             strings.TrimSpace(name),
		Status:           status,
		AssetMap:         cloneAssetMap(assets),
		SelectedFormats:  normalizeFormats(formats),
		GenerationStatus: GenerationPending,
		CurrentVersion:   1,
		LastModifiedBy:   author,
		LastModifiedAt:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// cloneAssetMap copies assets, dropping roles bound to an empty asset id.
func cloneAssetMap(assets map[string]string) map[string]string {
	out := make(map[string]string, len(assets))
	for role, asset := range assets {
		role = strings.TrimSpace(role)
		asset = strings.TrimSpace(asset)
		if role == "" || asset == "" {
			continue
		}
		out[role] = asset
	}
	return out
}

func copyFormats(formats []string) []string {
	out := make([]string, len(formats))
	copy(out, formats)
	return out
}

func normalizeFormats(formats []string) []string {
	seen := make(map[string]struct{}, len(formats))
	out := make([]string, 0, len(formats))
	for _, format := range formats {
		format = strings.TrimSpace(format)
		if format == "" {
			continue
		}
		if _, dup := seen[format]; dup {
			continue
		}
		seen[format] = struct{}{}
		out = append(out, format)
	}
	sort.Strings(out)
	return out
}
