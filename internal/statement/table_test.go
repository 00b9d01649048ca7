package statement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12.50", "12.5"},
		{"-12,5", "-12.5"},
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"1,234,567", "1234567"},
		{"12.50 EUR", "12.5"},
		{"99,00 €", "99"},
		{"45,10-", "-45.1"},
		{"1 000,00", "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAmount(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}

	_, err := parseAmount("twelve")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-05", "05.03.2024", "05.03.24", "05/03/2024", "5.3.2024"} {
		got, err := parseDate(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}

	_, err := parseDate("March 5th")
	assert.Error(t, err)
}

func TestParseTable(t *testing.T) {
	rows := [][]string{
		{"Kontoname", "Giro"},
		{"IBAN:", "DE89370400440532013000"},
		{},
		{"Buchungstag", "Valuta", "Empfänger", "Verwendungszweck", "Betrag", "Währung", "Status"},
		{"02.04.2024", "03.04.2024", "Shop GmbH", "Order 1", "-19,99", "eur", "Gebucht"},
		{"", "", "", "Saldo", "", "", ""},
		{"05.04.2024", "", "Employer", "Salary", "2.500,00", "EUR", "Vorgemerkt"},
	}

	parsed, err := parseTable(rows)
	require.NoError(t, err)
	assert.Equal(t, "DE89370400440532013000", parsed.Header.AccountIBAN)
	assert.Equal(t, "Giro", parsed.Header.Description)
	require.Len(t, parsed.Movements, 2)

	first := parsed.Movements[0]
	assert.Equal(t, "Shop GmbH", first.Counterparty)
	assert.Equal(t, "Order 1", first.Subject)
	assert.Equal(t, "EUR", first.CurrencyCode)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("-19.99")))
	assert.Equal(t, 3, first.ValutaDate.Day())
	assert.False(t, first.IsPreview)

	second := parsed.Movements[1]
	assert.True(t, second.Amount.Equal(decimal.NewFromInt(2500)))
	assert.True(t, second.ValutaDate.IsZero())
	assert.True(t, second.IsPreview)
}

func TestParseTable_Errors(t *testing.T) {
	_, err := parseTable([][]string{{"just", "text"}})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = parseTable([][]string{
		{"Date", "Amount"},
		{"2024-04-01", "ten"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
