package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ChangeSummaryCreated marks the first snapshot of every composition.
const ChangeSummaryCreated = "created"

// CompositionSnapshot is the tracked-field set persisted with each version.
type CompositionSnapshot struct {
	Name            string            `json:"name"`
	TemplateID      uuid.UUID         `json:"template_id"`
	AssetMap        map[string]string `json:"asset_map"`
	SelectedFormats []string          `json:"selected_formats"`
	Status          CompositionStatus `json:"status"`
}

// FieldChange is one {old, new} pair in a sparse diff.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// RevertMarker records where a reverted version came from.
type RevertMarker struct {
	FromVersion int    `json:"revert_from_version"`
	Reason      string `json:"reason"`
}

// ChangedFields is either a sparse field diff or a revert marker.
type ChangedFields struct {
	Fields map[string]FieldChange
	Revert *RevertMarker
}

func (c ChangedFields) IsEmpty() bool {
	return c.Revert == nil && len(c.Fields) == 0
}

func (c ChangedFields) MarshalJSON() ([]byte, error) {
	if c.Revert != nil {
		return json.Marshal(c.Revert)
	}
	if c.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.Fields)
}

func (c *ChangedFields) UnmarshalJSON(data []byte) error {
	*c = ChangedFields{}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("failed to decode changed fields: %w", err)
	}
	if _, ok := keys["revert_from_version"]; ok {
		var marker RevertMarker
		if err := json.Unmarshal(data, &marker); err != nil {
			return fmt.Errorf("failed to decode revert marker: %w", err)
		}
		c.Revert = &marker
		return nil
	}
	if len(keys) == 0 {
		return nil
	}
	fields := make(map[string]FieldChange, len(keys))
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to decode field changes: %w", err)
	}
	c.Fields = fields
	return nil
}

// CompositionVersion is an immutable snapshot tied to one version number.
type CompositionVersion struct {
	ID            int64               `json:"id"`
	CompositionID uuid.UUID           `json:"composition_id"`
	VersionNumber int                 `json:"version_number"`
	VersionHash   string              `json:"version_hash"`
	ChangeSummary string              `json:"change_summary"`
	ChangedFields ChangedFields       `json:"changed_fields"`
	CreatedBy     string              `json:"created_by"`
	CreatedAt     time.Time           `json:"created_at"`
	IsPublished   bool                `json:"is_published"`
	Snapshot      CompositionSnapshot `json:"composition_snapshot"`
}

// NewCompositionVersion builds the snapshot row for c at its current version.
func NewCompositionVersion(c Composition, summary string, changes ChangedFields, author string, now time.Time) (CompositionVersion, error) {
	snapshot := c.Snapshot()
	hash, err := VersionHash(c.ID, c.CurrentVersion, snapshot)
	if err != nil {
		return CompositionVersion{}, err
	}
	return CompositionVersion{
		CompositionID: c.ID,
		VersionNumber: c.CurrentVersion,
		VersionHash:   hash,
		ChangeSummary: summary,
		ChangedFields: changes,
		CreatedBy:     author,
		CreatedAt:     now,
		IsPublished:   snapshot.Status.IsPublished(),
		Snapshot:      snapshot,
	}, nil
}

type watchedField struct {
	name string
	diff func(prev, next CompositionSnapshot) map[string]FieldChange
	copy func(dst *CompositionSnapshot, src CompositionSnapshot)
}

// compositionWatchList is the fixed set of tracked fields. Diff, compare and
// revert all iterate it.
var compositionWatchList = []watchedField{
	scalarField("name",
		func(s CompositionSnapshot) string { return s.Name },
		func(d *CompositionSnapshot, v string) { d.Name = v }),
	scalarField("template_id",
		func(s CompositionSnapshot) string { return s.TemplateID.String() },
		func(d *CompositionSnapshot, v string) { d.TemplateID = uuid.MustParse(v) }),
	{
		name: "asset_map",
		diff: diffAssetMap,
		copy: func(d *CompositionSnapshot, s CompositionSnapshot) { d.AssetMap = cloneAssetMap(s.AssetMap) },
	},
	{
		name: "selected_formats",
		diff: func(prev, next CompositionSnapshot) map[string]FieldChange {
			if slices.Equal(prev.SelectedFormats, next.SelectedFormats) {
				return nil
			}
			return map[string]FieldChange{"selected_formats": {
				Old: copyFormats(prev.SelectedFormats),
				New: copyFormats(next.SelectedFormats),
			}}
		},
		copy: func(d *CompositionSnapshot, s CompositionSnapshot) {
			d.SelectedFormats = copyFormats(s.SelectedFormats)
		},
	},
	scalarField("status",
		func(s CompositionSnapshot) string { return string(s.Status) },
		func(d *CompositionSnapshot, v string) { d.Status = CompositionStatus(v) }),
}

func scalarField(name string, get func(CompositionSnapshot) string, set func(*CompositionSnapshot, string)) watchedField {
	return watchedField{
		name: name,
		diff: func(prev, next CompositionSnapshot) map[string]FieldChange {
			before, after := get(prev), get(next)
			if before == after {
				return nil
			}
			return map[string]FieldChange{name: {Old: before, New: after}}
		},
		copy: func(d *CompositionSnapshot, s CompositionSnapshot) { set(d, get(s)) },
	}
}

// AssetFieldKey is the changed-fields key for one role binding.
func AssetFieldKey(role string) string {
	return "asset_map." + role
}

// diffAssetMap reports one entry per role whose binding changed. Unbound
// sides are reported as nil.
func diffAssetMap(prev, next CompositionSnapshot) map[string]FieldChange {
	roles := make(map[string]struct{}, len(prev.AssetMap)+len(next.AssetMap))
	for role := range prev.AssetMap {
		roles[role] = struct{}{}
	}
	for role := range next.AssetMap {
		roles[role] = struct{}{}
	}
	out := make(map[string]FieldChange)
	for role := range roles {
		before, hadBefore := prev.AssetMap[role]
		after, hasAfter := next.AssetMap[role]
		if hadBefore == hasAfter && before == after {
			continue
		}
		change := FieldChange{}
		if hadBefore {
			change.Old = before
		}
		if hasAfter {
			change.New = after
		}
		out[AssetFieldKey(role)] = change
	}
	return out
}

// DiffSnapshots compares the watch-list fields of two snapshots. It returns
// nil when they are equal.
func DiffSnapshots(prev, next CompositionSnapshot) map[string]FieldChange {
	out := make(map[string]FieldChange)
	for _, field := range compositionWatchList {
		for key, change := range field.diff(prev, next) {
			out[key] = change
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// WatchedFieldNames lists the tracked field names in declaration order.
func WatchedFieldNames() []string {
	names := make([]string, len(compositionWatchList))
	for i, field := range compositionWatchList {
		names[i] = field.name
	}
	return names
}

// SortedChangeKeys returns the keys of a diff in stable order.
func SortedChangeKeys(changes map[string]FieldChange) []string {
	keys := make([]string, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ModifiedComposition summarizes recent versioning activity for one composition.
type ModifiedComposition struct {
	CompositionID   uuid.UUID `json:"composition_id"`
	Name            string    `json:"name"`
	TemplateID      uuid.UUID `json:"template_id"`
	TemplateName    string    `json:"template_name,omitempty"`
	LastModified    time.Time `json:"last_modified"`
	VersionsInRange int       `json:"version_count"`
}
