package sink

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/Sternrassler/wbpanel/pkg/panel"
)

func encodeCSV(t *panel.Table, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := append([]string{YearHeader}, t.Columns()...)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for _, year := range t.Years() {
		record[0] = strconv.Itoa(year)
		row, _ := t.Row(year)
		for i, v := range row {
			if v.Valid {
				record[i+1] = strconv.FormatFloat(v.Value, 'f', -1, 64)
			} else {
				record[i+1] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
