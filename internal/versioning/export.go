package versioning

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/thumbforge/internal/domain"
)

const (
	historySheet = "History"
	changesSheet = "Changes"
)

var (
	historyHeader = []any{"Version", "Created At", "Created By", "Summary", "Published", "Status", "Name", "Template", "Formats", "Hash"}
	changesHeader = []any{"Version", "Field", "Old", "New"}
)

// ExportHistory writes the composition's retained history as an XLSX
// workbook with one sheet of versions and one of field changes.
func (e *Engine) ExportHistory(ctx context.Context, id uuid.UUID, w io.Writer) error {
	history, err := e.GetVersionHistory(ctx, id)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return fmt.Errorf("failed to name history sheet: %w", err)
	}
	if _, err := f.NewSheet(changesSheet); err != nil {
		return fmt.Errorf("failed to create changes sheet: %w", err)
	}
	if err := setRow(f, historySheet, 1, historyHeader); err != nil {
		return err
	}
	if err := setRow(f, changesSheet, 1, changesHeader); err != nil {
		return err
	}

	changeRow := 2
	for i, v := range history.Versions {
		row := []any{
			v.VersionNumber,
			v.CreatedAt.UTC().Format(time.RFC3339),
			v.CreatedBy,
			v.ChangeSummary,
			v.IsPublished,
			string(v.Snapshot.Status),
			v.Snapshot.Name,
			v.Snapshot.TemplateID.String(),
			strings.Join(v.Snapshot.SelectedFormats, ", "),
			v.VersionHash,
		}
		if err := setRow(f, historySheet, i+2, row); err != nil {
			return err
		}
		for _, change := range changeRows(v) {
			if err := setRow(f, changesSheet, changeRow, change); err != nil {
				return err
			}
			changeRow++
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func changeRows(v domain.CompositionVersion) [][]any {
	if v.ChangedFields.Revert != nil {
		return [][]any{{
			v.VersionNumber,
			"revert_from_version",
			"",
			fmt.Sprintf("v%d (%s)", v.ChangedFields.Revert.FromVersion, v.ChangedFields.Revert.Reason),
		}}
	}
	var rows [][]any
	for _, key := range domain.SortedChangeKeys(v.ChangedFields.Fields) {
		change := v.ChangedFields.Fields[key]
		rows = append(rows, []any{v.VersionNumber, key, cellText(change.Old), cellText(change.New)})
	}
	return rows
}

func cellText(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(typed, ", ")
	case []any:
		parts := make([]string, len(typed))
		for i, item := range typed {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(typed)
	}
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to resolve cell: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}
