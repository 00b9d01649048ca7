package statement

import (
	"bytes"
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestXLSXReader_Parse(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"Account Number", "0532013000"},
		{"Booking Date", "Counterparty", "Subject", "Amount", "Currency", "Quantity", "Fee"},
		{"2024-04-02", "Broker AG", "Buy ACME", "-1000.00", "EUR", "10", "1.50"},
		{"2024-04-03", "Employer", "Salary", "2500.00", "EUR", "", ""},
	})

	parsed, err := NewXLSXReader().Parse(context.Background(), "depot.xlsx", data)
	require.NoError(t, err)
	assert.Equal(t, "0532013000", parsed.Header.AccountNumber)
	require.Len(t, parsed.Movements, 2)

	buy := parsed.Movements[0]
	assert.Equal(t, "Broker AG", buy.Counterparty)
	require.True(t, buy.Quantity.Valid)
	assert.True(t, buy.Quantity.Decimal.Equal(decimal.NewFromInt(10)))
	require.True(t, buy.Fee.Valid)
	assert.True(t, buy.Fee.Decimal.Equal(decimal.RequireFromString("1.5")))
	assert.False(t, parsed.Movements[1].Quantity.Valid)
}

func TestXLSXReader_Errors(t *testing.T) {
	_, err := NewXLSXReader().Parse(context.Background(), "export.csv", []byte("a;b"))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewXLSXReader().Parse(context.Background(), "broken.xlsx", []byte("not a zip"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupported)
}
