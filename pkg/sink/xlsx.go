package sink

import (
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/Sternrassler/wbpanel/pkg/panel"
)

// SheetName is the worksheet that receives the panel.
const SheetName = "Sheet1"

func encodeXLSX(t *panel.Table, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetCellValue(SheetName, "A1", YearHeader); err != nil {
		return err
	}
	for i, col := range t.Columns() {
		cell, err := excelize.CoordinatesToCellName(i+2, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, col); err != nil {
			return err
		}
	}

	for r, year := range t.Years() {
		rowNum := r + 2
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, year); err != nil {
			return err
		}

		row, _ := t.Row(year)
		for c, v := range row {
			if !v.Valid {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+2, rowNum)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(SheetName, cell, v.Value); err != nil {
				return err
			}
		}
	}

	_, err := f.WriteTo(w)
	return err
}
