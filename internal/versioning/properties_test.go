package versioning

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/rpattn/thumbforge/internal/domain"
	"github.com/rpattn/thumbforge/internal/roles"
)

var (
	assetPool  = []string{"asset-a", "asset-b", "asset-c"}
	formatPool = []string{"YOUTUBE", "INSTAGRAM", "TWITTER", "TIKTOK"}
	statuses   = []domain.CompositionStatus{
		domain.StatusDraft, domain.StatusReview, domain.StatusApproved, domain.StatusPublished, domain.StatusArchived,
	}
)

// drawPatch draws a patch that keeps the composition valid for the fixture
// template. Status moves are not filtered; the engine rejects backward ones.
func drawPatch(t *rapid.T) domain.CompositionPatch {
	var patch domain.CompositionPatch
	if rapid.Bool().Draw(t, "set_name") {
		name := rapid.StringMatching(`[A-Za-z ]{1,16}[a-z]`).Draw(t, "name")
		patch.Name = &name
	}
	if rapid.Bool().Draw(t, "set_assets") {
		assets := map[string]string{
			roles.HostLala:   rapid.SampledFrom(assetPool).Draw(t, "lala"),
			roles.Background: rapid.SampledFrom(assetPool).Draw(t, "bg"),
		}
		if rapid.Bool().Draw(t, "title") {
			assets[roles.ShowTitle] = rapid.SampledFrom(assetPool).Draw(t, "title_asset")
		}
		patch.AssetMap = assets
	}
	if rapid.Bool().Draw(t, "set_formats") {
		patch.SelectedFormats = rapid.SliceOfDistinct(rapid.SampledFrom(formatPool), rapid.ID[string]).Draw(t, "formats")
	}
	if rapid.Bool().Draw(t, "set_status") {
		status := rapid.SampledFrom(statuses).Draw(t, "status")
		patch.Status = &status
	}
	return patch
}

func TestHistoryInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		f := newFixture(t, WithRecordNoopUpdates(rapid.Bool().Draw(rt, "record_noop")))
		c := f.create(t)

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			f.clock.Advance(time.Minute)
			if rapid.IntRange(0, 4).Draw(rt, "op") == 0 {
				current, err := f.engine.GetComposition(ctx, c.ID)
				if err != nil {
					rt.Fatalf("get: %v", err)
				}
				target := rapid.IntRange(1, current.CurrentVersion).Draw(rt, "target")
				result, err := f.engine.RevertToVersion(ctx, c.ID, target, "prop", "check")
				if err != nil {
					rt.Fatalf("revert to %d: %v", target, err)
				}
				restored, err := f.engine.GetSpecificVersion(ctx, c.ID, result.RevertDetails.NewVersionNumber)
				if err != nil {
					rt.Fatalf("read revert version: %v", err)
				}
				original, err := f.engine.GetSpecificVersion(ctx, c.ID, target)
				if err != nil {
					rt.Fatalf("read target: %v", err)
				}
				if diff := domain.DiffSnapshots(original.Snapshot, restored.Snapshot); diff != nil {
					rt.Fatalf("revert to v%d left differences: %v", target, diff)
				}
				continue
			}
			_, _ = f.engine.UpdateComposition(ctx, c.ID, drawPatch(rt), "prop")
		}

		history, err := f.engine.GetVersionHistory(ctx, c.ID)
		if err != nil {
			rt.Fatalf("history: %v", err)
		}
		if len(history.Versions) != history.CurrentVersion {
			rt.Fatalf("history has %d versions, current version is %d", len(history.Versions), history.CurrentVersion)
		}
		for i, v := range history.Versions {
			if want := history.CurrentVersion - i; v.VersionNumber != want {
				rt.Fatalf("version at %d is %d, want %d", i, v.VersionNumber, want)
			}
			if v.IsPublished != v.Snapshot.Status.IsPublished() {
				rt.Fatalf("v%d is_published=%v with status %s", v.VersionNumber, v.IsPublished, v.Snapshot.Status)
			}
		}

		n := rapid.IntRange(1, history.CurrentVersion).Draw(rt, "compare")
		cmp, err := f.engine.CompareVersions(ctx, c.ID, n, n)
		if err != nil {
			rt.Fatalf("compare: %v", err)
		}
		if cmp.Differences != nil || cmp.DifferenceCount != 0 {
			rt.Fatalf("compare v%d with itself reported %v", n, cmp.Differences)
		}
	})
}

func TestCleanupNeverDeletesPublished(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		f := newFixture(t)
		c := f.create(t)

		steps := rapid.IntRange(1, 8).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			_, _ = f.engine.UpdateComposition(ctx, c.ID, drawPatch(rt), "prop")
		}
		before, err := f.engine.GetVersionHistory(ctx, c.ID)
		if err != nil {
			rt.Fatalf("history: %v", err)
		}
		for _, v := range before.Versions {
			age := rapid.IntRange(0, 400).Draw(rt, "age_days")
			if err := f.store.Backdate(c.ID, v.VersionNumber, f.clock.Now().AddDate(0, 0, -age)); err != nil {
				rt.Fatalf("backdate: %v", err)
			}
		}
		before, _ = f.engine.GetVersionHistory(ctx, c.ID)

		retention := rapid.IntRange(1, 365).Draw(rt, "retention")
		result, err := f.engine.CleanupOldVersions(ctx, c.ID, retention)
		if err != nil {
			rt.Fatalf("cleanup: %v", err)
		}

		after, err := f.engine.GetVersionHistory(ctx, c.ID)
		if err != nil {
			rt.Fatalf("history: %v", err)
		}
		kept := make(map[int]bool, len(after.Versions))
		for _, v := range after.Versions {
			kept[v.VersionNumber] = true
		}
		cutoff := f.clock.Now().AddDate(0, 0, -retention)
		expectedDeleted := 0
		for _, v := range before.Versions {
			shouldGo := !v.IsPublished && v.CreatedAt.Before(cutoff)
			if shouldGo {
				expectedDeleted++
			}
			if kept[v.VersionNumber] == shouldGo {
				rt.Fatalf("v%d (published=%v, created=%s) kept=%v with cutoff %s", v.VersionNumber, v.IsPublished, v.CreatedAt, kept[v.VersionNumber], cutoff)
			}
		}
		if result.DeletedVersions != expectedDeleted {
			rt.Fatalf("deleted %d, want %d", result.DeletedVersions, expectedDeleted)
		}
	})
}
