package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementMovement is one parsed statement line as delivered by a statement reader.
// It is never mutated after parsing.
type StatementMovement struct {
	BookingDate        time.Time
	ValutaDate         time.Time
	Amount             decimal.Decimal
	CurrencyCode       string
	Subject            string
	Counterparty       string
	PostingDescription string

	Quantity decimal.NullDecimal
	Fee      decimal.NullDecimal
	Tax      decimal.NullDecimal

	// IsPreview marks announced (not yet settled) movements.
	IsPreview bool
}

// StatementHeader carries the account identification found in a statement file.
type StatementHeader struct {
	AccountIBAN   string
	AccountNumber string
	Description   string
}

// ParsedStatement is the result of reading one statement file.
type ParsedStatement struct {
	Header    StatementHeader
	Movements []StatementMovement
}

// MonthLabel returns the "YYYY-MM" bucket label of the movement's booking date.
func (m StatementMovement) MonthLabel() string {
	return m.BookingDate.Format("2006-01")
}
