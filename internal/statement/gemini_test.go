package statement

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockModel is a mock implementation of Model.
type MockModel struct {
	GenerateFunc func(ctx context.Context, prompt string, pdf []byte) (string, error)
}

func (m *MockModel) Generate(ctx context.Context, prompt string, pdf []byte) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, pdf)
	}
	return "", nil
}

const modelAnswer = "```json\n" + `{
  "iban": "DE89370400440532013000",
  "account_number": null,
  "account_name": "Depot",
  "movements": [
    {"booking_date": "2024-04-02", "valuta_date": "2024-04-04", "amount": -1000.10, "currency": "eur",
     "subject": "Buy ACME", "counterparty": "Broker AG", "posting_text": "Kauf",
     "quantity": 10, "fee": 0.10, "tax": null, "pending": false},
    {"booking_date": "2024-04-05", "valuta_date": null, "amount": "12.34", "currency": "EUR",
     "subject": "Dividend", "counterparty": null, "posting_text": null,
     "quantity": null, "fee": null, "tax": 3.21, "pending": true}
  ]
}` + "\n```"

func TestGeminiReader_Parse(t *testing.T) {
	var gotPDF []byte
	model := &MockModel{
		GenerateFunc: func(ctx context.Context, prompt string, pdf []byte) (string, error) {
			gotPDF = pdf
			assert.Contains(t, prompt, "movements")
			return modelAnswer, nil
		},
	}

	parsed, err := NewGeminiReader(model).Parse(context.Background(), "depot.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), gotPDF)

	assert.Equal(t, "DE89370400440532013000", parsed.Header.AccountIBAN)
	assert.Empty(t, parsed.Header.AccountNumber)
	assert.Equal(t, "Depot", parsed.Header.Description)
	require.Len(t, parsed.Movements, 2)

	buy := parsed.Movements[0]
	assert.True(t, buy.Amount.Equal(decimal.RequireFromString("-1000.10")))
	assert.Equal(t, "EUR", buy.CurrencyCode)
	assert.Equal(t, "Kauf", buy.PostingDescription)
	assert.Equal(t, 4, buy.ValutaDate.Day())
	assert.True(t, buy.Quantity.Decimal.Equal(decimal.NewFromInt(10)))
	assert.False(t, buy.Tax.Valid)

	dividend := parsed.Movements[1]
	assert.True(t, dividend.Amount.Equal(decimal.RequireFromString("12.34")))
	assert.True(t, dividend.ValutaDate.IsZero())
	assert.True(t, dividend.IsPreview)
	assert.True(t, dividend.Tax.Decimal.Equal(decimal.RequireFromString("3.21")))
}

func TestGeminiReader_Errors(t *testing.T) {
	called := false
	model := &MockModel{GenerateFunc: func(context.Context, string, []byte) (string, error) {
		called = true
		return "", nil
	}}
	_, err := NewGeminiReader(model).Parse(context.Background(), "export.csv", []byte("a;b"))
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, called)

	_, err = NewGeminiReader(model).Parse(context.Background(), "s.pdf", []byte("%PDF"))
	assert.ErrorContains(t, err, "empty response")

	boom := errors.New("quota exceeded")
	failing := &MockModel{GenerateFunc: func(context.Context, string, []byte) (string, error) {
		return "", boom
	}}
	_, err = NewGeminiReader(failing).Parse(context.Background(), "s.pdf", []byte("%PDF"))
	assert.ErrorIs(t, err, boom)

	missingDate := &MockModel{GenerateFunc: func(context.Context, string, []byte) (string, error) {
		return `{"movements":[{"amount": 1, "currency": "EUR"}]}`, nil
	}}
	_, err = NewGeminiReader(missingDate).Parse(context.Background(), "s.pdf", []byte("%PDF"))
	assert.ErrorContains(t, err, "booking_date")
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"chatter", "Here you go:\n{\"a\":1}\nThanks", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanModelJSON(tt.in))
		})
	}
}
