// Package sink writes a built panel to a file. The format follows the file
// extension: .xlsx (default), .csv or .parquet.
package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/wbpanel/pkg/logging"
	"github.com/Sternrassler/wbpanel/pkg/panel"
)

var (
	// ErrUnsupportedFormat is returned for an output extension without an encoder.
	ErrUnsupportedFormat = errors.New("unsupported output format")

	// ErrWrite wraps any failure to produce the output file.
	ErrWrite = errors.New("write failed")

	// ErrEmptyPanel is returned when asked to write a panel without rows or columns.
	ErrEmptyPanel = errors.New("empty panel")
)

// YearHeader is the label of the first column in every format.
const YearHeader = "year"

// Format identifies an output encoding.
type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

type encodeFunc func(t *panel.Table, w io.Writer) error

var encoders = map[Format]encodeFunc{
	FormatXLSX:    encodeXLSX,
	FormatCSV:     encodeCSV,
	FormatParquet: encodeParquet,
}

// FormatFor returns the output format selected by path's extension.
func FormatFor(path string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	f := Format(ext)
	if _, ok := encoders[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	return f, nil
}

// Save writes t to path. The file is produced in the same directory under a
// temporary name and renamed into place, so a failed write leaves no output.
func Save(t *panel.Table, path string) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	if t == nil || t.Len() == 0 || t.Width() == 0 {
		return ErrEmptyPanel
	}

	if err := writeFile(path, func(w io.Writer) error {
		return encoders[format](t, w)
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	logger := logging.NewLogger("sink")
	logger.Info().
		Str("path", path).
		Str("format", string(format)).
		Int("rows", t.Len()).
		Int("columns", t.Width()).
		Msg("Panel written")

	return nil
}

func writeFile(path string, encode func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	// Encoders see only io.Writer so none of them closes the file.
	if err = encode(struct{ io.Writer }{tmp}); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
