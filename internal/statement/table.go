package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/domain"
)

type column int

const (
	colBookingDate column = iota
	colValutaDate
	colAmount
	colCurrency
	colSubject
	colCounterparty
	colDescription
	colQuantity
	colFee
	colTax
	colStatus
)

// headerAliases maps lower-cased column headings of common bank exports to columns.
var headerAliases = map[string]column{
	"buchungstag":                       colBookingDate,
	"buchungsdatum":                     colBookingDate,
	"booking date":                      colBookingDate,
	"date":                              colBookingDate,
	"datum":                             colBookingDate,
	"valuta":                            colValutaDate,
	"valutadatum":                       colValutaDate,
	"wertstellung":                      colValutaDate,
	"value date":                        colValutaDate,
	"betrag":                            colAmount,
	"betrag (eur)":                      colAmount,
	"umsatz":                            colAmount,
	"amount":                            colAmount,
	"währung":                           colCurrency,
	"waehrung":                          colCurrency,
	"currency":                          colCurrency,
	"verwendungszweck":                  colSubject,
	"subject":                           colSubject,
	"purpose":                           colSubject,
	"reference":                         colSubject,
	"beguenstigter/zahlungspflichtiger": colCounterparty,
	"begünstigter/zahlungspflichtiger":  colCounterparty,
	"empfänger":                         colCounterparty,
	"empfaenger":                        colCounterparty,
	"auftraggeber":                      colCounterparty,
	"name":                              colCounterparty,
	"counterparty":                      colCounterparty,
	"payee":                             colCounterparty,
	"buchungstext":                      colDescription,
	"posting text":                      colDescription,
	"description":                       colDescription,
	"type":                              colDescription,
	"stück":                             colQuantity,
	"stueck":                            colQuantity,
	"quantity":                          colQuantity,
	"gebühr":                            colFee,
	"gebuehr":                           colFee,
	"fee":                               colFee,
	"steuer":                            colTax,
	"tax":                               colTax,
	"status":                            colStatus,
}

// preambleKeys maps lower-cased key cells found above the table to header fields.
var preambleKeys = map[string]string{
	"iban":           "iban",
	"konto":          "account",
	"kontonummer":    "account",
	"account":        "account",
	"account number": "account",
	"bezeichnung":    "description",
	"kontoname":      "description",
	"account name":   "description",
}

var dateLayouts = []string{"2006-01-02", "02.01.2006", "02.01.06", "02/01/2006", "2.1.2006"}

// parseTable converts rows of cells into a parsed statement. Rows before the heading row may
// carry "key;value" account details. Rows after it that have no date are skipped.
func parseTable(rows [][]string) (*domain.ParsedStatement, error) {
	parsed := &domain.ParsedStatement{}

	headerRow := -1
	var cols map[column]int
	for i, row := range rows {
		if m := mapHeader(row); m != nil {
			headerRow, cols = i, m
			break
		}
		readPreamble(&parsed.Header, row)
	}
	if headerRow < 0 {
		return nil, ErrUnsupported
	}

	for i, row := range rows[headerRow+1:] {
		cell := func(c column) string {
			idx, ok := cols[c]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		rawDate := cell(colBookingDate)
		if rawDate == "" {
			continue
		}
		line := headerRow + i + 2

		m := domain.StatementMovement{
			CurrencyCode:       strings.ToUpper(cell(colCurrency)),
			Subject:            cell(colSubject),
			Counterparty:       cell(colCounterparty),
			PostingDescription: cell(colDescription),
			IsPreview:          isPreviewStatus(cell(colStatus)),
		}
		var err error
		if m.BookingDate, err = parseDate(rawDate); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if v := cell(colValutaDate); v != "" {
			if m.ValutaDate, err = parseDate(v); err != nil {
				return nil, fmt.Errorf("line %d: valuta: %w", line, err)
			}
		}
		if m.Amount, err = parseAmount(cell(colAmount)); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if m.Quantity, err = parseOptionalAmount(cell(colQuantity)); err != nil {
			return nil, fmt.Errorf("line %d: quantity: %w", line, err)
		}
		if m.Fee, err = parseOptionalAmount(cell(colFee)); err != nil {
			return nil, fmt.Errorf("line %d: fee: %w", line, err)
		}
		if m.Tax, err = parseOptionalAmount(cell(colTax)); err != nil {
			return nil, fmt.Errorf("line %d: tax: %w", line, err)
		}
		parsed.Movements = append(parsed.Movements, m)
	}
	return parsed, nil
}

// mapHeader returns the column positions when the row is a heading row with at least a
// date and an amount column.
func mapHeader(row []string) map[column]int {
	cols := make(map[column]int)
	for i, cell := range row {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")))
		if c, ok := headerAliases[key]; ok {
			if _, seen := cols[c]; !seen {
				cols[c] = i
			}
		}
	}
	_, hasDate := cols[colBookingDate]
	_, hasAmount := cols[colAmount]
	if !hasDate || !hasAmount {
		return nil
	}
	return cols
}

func readPreamble(h *domain.StatementHeader, row []string) {
	if len(row) < 2 {
		return
	}
	key := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(row[0], "\ufeff")), ":"))
	value := strings.TrimSpace(row[1])
	switch preambleKeys[key] {
	case "iban":
		h.AccountIBAN = value
	case "account":
		h.AccountNumber = value
	case "description":
		h.Description = value
	}
}

func isPreviewStatus(s string) bool {
	switch strings.ToLower(s) {
	case "vorgemerkt", "pending", "preview", "announced":
		return true
	}
	return false
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// parseAmount accepts "1.234,56", "1,234.56", "-12,5", "12.50 EUR" and a trailing minus sign.
func parseAmount(s string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(s)
	for _, suffix := range []string{"EUR", "USD", "GBP", "CHF", "€", "$", "£"} {
		clean = strings.TrimSpace(strings.TrimSuffix(clean, suffix))
	}
	clean = strings.ReplaceAll(clean, " ", "")
	clean = strings.ReplaceAll(clean, "\u00a0", "")
	if strings.HasSuffix(clean, "-") {
		clean = "-" + strings.TrimSuffix(clean, "-")
	}

	lastDot := strings.LastIndex(clean, ".")
	lastComma := strings.LastIndex(clean, ",")
	switch {
	case lastDot < 0 && strings.Count(clean, ",") > 1:
		clean = strings.ReplaceAll(clean, ",", "")
	case lastComma > lastDot:
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.Replace(clean, ",", ".", 1)
	case lastDot > lastComma && lastComma >= 0:
		clean = strings.ReplaceAll(clean, ",", "")
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unrecognised amount %q", s)
	}
	return d, nil
}

func parseOptionalAmount(s string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseAmount(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
