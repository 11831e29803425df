package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// CanonicalText flattens the snapshot into deterministic lines for diffing.
func (s CompositionSnapshot) CanonicalText() []string {
	lines := []string{
		fmt.Sprintf("Name: %s", s.Name),
		fmt.Sprintf("TemplateID: %s", s.TemplateID),
		fmt.Sprintf("Status: %s", s.Status),
		fmt.Sprintf("SelectedFormats: %s", strings.Join(s.SelectedFormats, ", ")),
		"AssetMap:",
	}
	if len(s.AssetMap) == 0 {
		return append(lines, "  (empty)")
	}
	roles := make([]string, 0, len(s.AssetMap))
	for role := range s.AssetMap {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		lines = append(lines, fmt.Sprintf("  %s: %s", role, s.AssetMap[role]))
	}
	return lines
}

// DiffSnapshotText renders a line-oriented unified diff between two snapshots.
func DiffSnapshotText(baseLabel string, base CompositionSnapshot, targetLabel string, target CompositionSnapshot) string {
	baseText := strings.Join(base.CanonicalText(), "\n") + "\n"
	targetText := strings.Join(target.CanonicalText(), "\n") + "\n"

	dmp := diffmatchpatch.New()
	baseChars, targetChars, lineArray := dmp.DiffLinesToChars(baseText, targetText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(baseChars, targetChars, false), lineArray)

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n", baseLabel)
	fmt.Fprintf(&b, "+++ %s\n", targetLabel)
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			b.WriteString(prefix)
			b.WriteString(line)
		}
	}
	return b.String()
}
