package statement

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// XLSXReader reads the first worksheet of an Excel export.
type XLSXReader struct{}

// NewXLSXReader creates an Excel reader.
func NewXLSXReader() *XLSXReader {
	return &XLSXReader{}
}

func (r *XLSXReader) Name() string { return "xlsx" }

// Parse implements Reader.
func (r *XLSXReader) Parse(ctx context.Context, fileName string, data []byte) (*domain.ParsedStatement, error) {
	if strings.ToLower(filepath.Ext(fileName)) != ".xlsx" {
		return nil, ErrUnsupported
	}

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("XLSXReader.Parse: open %s: %w", fileName, err)
	}
	defer xl.Close()

	sheet := xl.GetSheetName(0)
	rows, err := xl.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("XLSXReader.Parse: rows of %s: %w", sheet, err)
	}

	parsed, err := parseTable(rows)
	if err != nil {
		return nil, fmt.Errorf("XLSXReader.Parse: %s: %w", fileName, err)
	}
	return parsed, nil
}

var _ Reader = (*XLSXReader)(nil)
