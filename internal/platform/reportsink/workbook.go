// Package reportsink writes run reports where operators read them: an XLSX
// workbook and an S3 archive.
package reportsink

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/incrementalload"
)

const (
	batchSheet   = "Batches"
	conceptSheet = "Concepts Loaded"
)

var batchHeader = []string{
	"Organization",
	"Resource Type",
	"State",
	"Failed At",
	"Error Kind",
	"Detail",
	"Concept Map",
	"Concept Map Version",
	"Terminology",
	"Concepts Requested",
	"Concepts Loaded",
	"New Value Set Version",
	"New Concept Map Version",
	"Partial State",
	"Duration (s)",
}

var conceptHeader = []string{"Organization", "Resource Type", "Code", "Display", "System", "Version"}

// WriteWorkbook renders r as a two-sheet workbook: one row per batch, and
// one row per concept that landed on a terminology.
func WriteWorkbook(w io.Writer, r *incrementalload.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(batchSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if _, err := f.NewSheet(conceptSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	partialStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFD7D7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create partial style: %w", err)
	}

	if err := writeRow(f, batchSheet, 1, toCells(batchHeader), headerStyle); err != nil {
		return err
	}
	if err := writeRow(f, conceptSheet, 1, toCells(conceptHeader), headerStyle); err != nil {
		return err
	}

	conceptRow := 2
	for i, b := range r.Batches {
		style := 0
		if b.PartialState {
			style = partialStyle
		}
		row := []interface{}{
			b.Organization,
			b.ResourceType,
			string(b.State),
			string(b.FailedAt),
			string(b.Kind),
			b.Detail,
			idCell(b.ConceptMapUUID),
			b.ConceptMapVersion,
			idCell(b.TerminologyUUID),
			b.ConceptsRequested,
			len(b.ConceptsLoaded),
			idCell(b.NewValueSetVersionUUID),
			idCell(b.NewConceptMapVersionUUID),
			b.PartialState,
			b.Duration.Seconds(),
		}
		if err := writeRow(f, batchSheet, i+2, row, style); err != nil {
			return err
		}

		for _, c := range b.ConceptsLoaded {
			cells := []interface{}{b.Organization, b.ResourceType, c.Code, c.Display, c.System, c.Version}
			if err := writeRow(f, conceptSheet, conceptRow, cells, 0); err != nil {
				return err
			}
			conceptRow++
		}
	}

	for sheet, widths := range map[string]float64{batchSheet: 22, conceptSheet: 24} {
		if err := f.SetColWidth(sheet, "A", "O", widths); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}, style int) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("set row %d of %s: %w", row, sheet, err)
	}
	if style == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(values), row)
	if err != nil {
		return fmt.Errorf("convert coordinates: %w", err)
	}
	if err := f.SetCellStyle(sheet, cell, last, style); err != nil {
		return fmt.Errorf("style row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func toCells(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func idCell(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
