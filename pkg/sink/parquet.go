package sink

import (
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"

	"github.com/Sternrassler/wbpanel/pkg/panel"
)

// parquetSchema is a non-null int64 year followed by one nullable float64
// field per panel column.
func parquetSchema(t *panel.Table) *arrow.Schema {
	fields := []arrow.Field{{Name: YearHeader, Type: arrow.PrimitiveTypes.Int64}}
	for _, col := range t.Columns() {
		fields = append(fields, arrow.Field{Name: col, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

func encodeParquet(t *panel.Table, w io.Writer) error {
	schema := parquetSchema(t)

	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()

	years := b.Field(0).(*array.Int64Builder)
	for _, year := range t.Years() {
		years.Append(int64(year))
		row, _ := t.Row(year)
		for i, v := range row {
			fb := b.Field(i + 1).(*array.Float64Builder)
			if v.Valid {
				fb.Append(v.Value)
			} else {
				fb.AppendNull()
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, w, props, arrowProps)
	if err != nil {
		return err
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}
