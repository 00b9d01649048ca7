package statement

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// CSVReader reads delimited bank exports. Semicolon and comma separated files are
// accepted; files that are not valid UTF-8 are decoded as Windows-1252.
type CSVReader struct{}

// NewCSVReader creates a CSV reader.
func NewCSVReader() *CSVReader {
	return &CSVReader{}
}

func (r *CSVReader) Name() string { return "csv" }

// Parse implements Reader.
func (r *CSVReader) Parse(ctx context.Context, fileName string, data []byte) (*domain.ParsedStatement, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext != ".csv" && ext != ".txt" {
		return nil, ErrUnsupported
	}

	var src io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		src = transform.NewReader(src, charmap.Windows1252.NewDecoder())
	}

	cr := csv.NewReader(src)
	cr.Comma = detectDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("CSVReader.Parse: %s: %w", fileName, err)
	}
	parsed, err := parseTable(rows)
	if err != nil {
		return nil, fmt.Errorf("CSVReader.Parse: %s: %w", fileName, err)
	}
	return parsed, nil
}

// detectDelimiter picks the separator occurring most often in the first lines.
func detectDelimiter(data []byte) rune {
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	best, bestCount := ';', -1
	for _, d := range []rune{';', ',', '\t'} {
		if n := bytes.Count(sample, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

var _ Reader = (*CSVReader)(nil)
