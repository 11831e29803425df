package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func sampleComposition() Composition {
	return NewComposition(
		uuid.New(),
		"Episode 12",
		map[string]string{"BG.MAIN": "bg-1", "CHAR.HOST.LALA": "lala-1"},
		[]string{"YOUTUBE", "INSTAGRAM", "YOUTUBE"},
		StatusDraft,
		"user-1",
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	)
}

func TestNewCompositionDefaults(t *testing.T) {
	c := NewComposition(uuid.New(), "  Title  ", map[string]string{"BG.MAIN": "", "CHAR.HOST.LALA": "x"}, nil, "", "u", time.Now())

	assert.Equal(t, "Title", c.Name)
	assert.Equal(t, StatusDraft, c.Status)
	assert.Equal(t, 1, c.CurrentVersion)
	assert.Equal(t, GenerationPending, c.GenerationStatus)
	assert.Equal(t, map[string]string{"CHAR.HOST.LALA": "x"}, c.AssetMap)
	assert.Empty(t, c.SelectedFormats)
}

func TestSelectedFormatsAreNormalized(t *testing.T) {
	c := sampleComposition()
	assert.Equal(t, []string{"INSTAGRAM", "YOUTUBE"}, c.SelectedFormats)
}

func TestDiffSnapshotsIsSparse(t *testing.T) {
	before := sampleComposition()
	published := StatusPublished
	after := CompositionPatch{
		Status:   &published,
		AssetMap: map[string]string{"BG.MAIN": "bg-2", "CHAR.HOST.LALA": "lala-1", "CHAR.GUEST.1": "g1"},
	}.Apply(before)

	diff := DiffSnapshots(before.Snapshot(), after.Snapshot())
	require.Len(t, diff, 3)
	assert.Equal(t, FieldChange{Old: "draft", New: "published"}, diff["status"])
	assert.Equal(t, FieldChange{Old: "bg-1", New: "bg-2"}, diff[AssetFieldKey("BG.MAIN")])
	assert.Equal(t, FieldChange{Old: nil, New: "g1"}, diff[AssetFieldKey("CHAR.GUEST.1")])
	assert.NotContains(t, diff, AssetFieldKey("CHAR.HOST.LALA"))
}

func TestDiffSnapshotsNilWhenEqual(t *testing.T) {
	c := sampleComposition()
	assert.Nil(t, DiffSnapshots(c.Snapshot(), c.Snapshot()))
}

func TestRestoreCopiesEveryWatchedField(t *testing.T) {
	original := sampleComposition()
	snapshot := original.Snapshot()

	name := "Changed"
	tmpl := uuid.New()
	review := StatusReview
	changed := CompositionPatch{
		Name:            &name,
		TemplateID:      &tmpl,
		AssetMap:        map[string]string{"BG.MAIN": "other"},
		SelectedFormats: []string{"TIKTOK"},
		Status:          &review,
	}.Apply(original)
	require.NotNil(t, DiffSnapshots(snapshot, changed.Snapshot()))

	changed.Restore(snapshot)
	assert.Nil(t, DiffSnapshots(snapshot, changed.Snapshot()))
	assert.Equal(t, snapshot, changed.Snapshot())
}

func TestPatchDoesNotAliasSource(t *testing.T) {
	c := sampleComposition()
	patched := CompositionPatch{}.Apply(c)
	patched.AssetMap["BG.MAIN"] = "mutated"
	assert.Equal(t, "bg-1", c.AssetMap["BG.MAIN"])
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusDraft.CanTransitionTo(StatusReview))
	assert.True(t, StatusDraft.CanTransitionTo(StatusPublished))
	assert.True(t, StatusPublished.CanTransitionTo(StatusArchived))
	assert.True(t, StatusReview.CanTransitionTo(StatusReview))
	assert.True(t, StatusDraft.CanTransitionTo(StatusArchived))
	assert.False(t, StatusPublished.CanTransitionTo(StatusDraft))
	assert.False(t, StatusArchived.CanTransitionTo(StatusPublished))
	assert.False(t, StatusDraft.CanTransitionTo("bogus"))
}

func TestChangedFieldsJSON(t *testing.T) {
	revert := ChangedFields{Revert: &RevertMarker{FromVersion: 1, Reason: "rollback bad edit"}}
	raw, err := json.Marshal(revert)
	require.NoError(t, err)
	assert.JSONEq(t, `{"revert_from_version":1,"reason":"rollback bad edit"}`, string(raw))

	var decoded ChangedFields
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotNil(t, decoded.Revert)
	assert.Equal(t, 1, decoded.Revert.FromVersion)

	raw, err = json.Marshal(ChangedFields{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))

	diff := ChangedFields{Fields: map[string]FieldChange{"status": {Old: "draft", New: "published"}}}
	raw, err = json.Marshal(diff)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":{"old":"draft","new":"published"}}`, string(raw))

	decoded = ChangedFields{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Nil(t, decoded.Revert)
	assert.Equal(t, diff.Fields, decoded.Fields)
}

func TestVersionHashDependsOnContent(t *testing.T) {
	c := sampleComposition()
	first, err := VersionHash(c.ID, 1, c.Snapshot())
	require.NoError(t, err)
	again, err := VersionHash(c.ID, 1, c.Snapshot())
	require.NoError(t, err)
	second, err := VersionHash(c.ID, 2, c.Snapshot())
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.NotEqual(t, first, second)
	assert.Len(t, first, 64)
}

func TestNewCompositionVersionMirrorsStatus(t *testing.T) {
	c := sampleComposition()
	v, err := NewCompositionVersion(c, ChangeSummaryCreated, ChangedFields{}, "user-1", c.CreatedAt)
	require.NoError(t, err)
	assert.False(t, v.IsPublished)
	assert.Equal(t, 1, v.VersionNumber)

	c.Status = StatusPublished
	c.CurrentVersion = 2
	v, err = NewCompositionVersion(c, "published", ChangedFields{}, "user-1", c.CreatedAt)
	require.NoError(t, err)
	assert.True(t, v.IsPublished)
}

func TestDiffSnapshotText(t *testing.T) {
	before := sampleComposition()
	review := StatusReview
	after := CompositionPatch{Status: &review}.Apply(before)

	out := DiffSnapshotText("v1", before.Snapshot(), "v2", after.Snapshot())
	assert.True(t, strings.HasPrefix(out, "--- v1\n+++ v2\n"))
	assert.Contains(t, out, "-Status: draft\n")
	assert.Contains(t, out, "+Status: review\n")
	assert.Contains(t, out, "  BG.MAIN: bg-1\n")
}

func TestDiffSnapshotsSymmetricProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		roles := []string{"BG.MAIN", "CHAR.HOST.LALA", "CHAR.GUEST.1"}
		gen := func(label string) CompositionSnapshot {
			assets := rapid.MapOf(rapid.SampledFrom(roles), rapid.StringMatching(`[a-z]{1,4}`)).Draw(t, label+"-assets")
			status := rapid.SampledFrom(statusOrder).Draw(t, label+"-status")
			name := rapid.StringMatching(`[A-Za-z ]{0,8}`).Draw(t, label+"-name")
			return CompositionSnapshot{Name: name, AssetMap: assets, SelectedFormats: []string{}, Status: status}
		}
		a, b := gen("a"), gen("b")

		forward := DiffSnapshots(a, b)
		backward := DiffSnapshots(b, a)
		if len(forward) != len(backward) {
			t.Fatalf("asymmetric diff sizes: %d vs %d", len(forward), len(backward))
		}
		for key, change := range forward {
			reverse := backward[key]
			if change.Old != reverse.New || change.New != reverse.Old {
				t.Fatalf("change %s not mirrored: %+v vs %+v", key, change, reverse)
			}
		}
		if DiffSnapshots(a, a) != nil {
			t.Fatalf("self diff must be nil")
		}
	})
}
