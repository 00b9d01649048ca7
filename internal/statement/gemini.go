package statement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

const statementPrompt = "You are a parser for bank and broker account statements in PDF form.\n\n" +
	"Task:\n" +
	"- Parse ALL movements in the attached statement.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
	"- Output ONE JSON object with these fields:\n" +
	"  - \"iban\": string or null\n" +
	"  - \"account_number\": string or null\n" +
	"  - \"account_name\": string or null\n" +
	"  - \"movements\": array of objects\n\n" +
	"Each movement object must have these fields:\n" +
	"- \"booking_date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"valuta_date\": string \"YYYY-MM-DD\" or null\n" +
	"- \"amount\": number (positive for money IN, negative for money OUT)\n" +
	"- \"currency\": string (e.g. \"EUR\")\n" +
	"- \"subject\": string, the remittance information\n" +
	"- \"counterparty\": string or null\n" +
	"- \"posting_text\": string or null, the bank's booking type\n" +
	"- \"quantity\": number or null, units of a security traded\n" +
	"- \"fee\": number or null\n" +
	"- \"tax\": number or null\n" +
	"- \"pending\": boolean, true for movements not yet settled\n\n" +
	"Rules:\n" +
	"- If the statement has separate \"debit\" / \"credit\" columns, convert to a single signed \"amount\".\n" +
	"- If the account cannot be determined, set its fields to null.\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"

// Model sends a prompt with an attached PDF and returns the raw text answer.
type Model interface {
	Generate(ctx context.Context, prompt string, pdf []byte) (string, error)
}

// GeminiModel is the Model backed by the Gemini API.
type GeminiModel struct {
	client *genai.Client
	model  string
}

// NewGeminiModel creates a Gemini client. Credentials come from the environment
// (GOOGLE_API_KEY, or GOOGLE_CLOUD_PROJECT with Vertex AI).
func NewGeminiModel(ctx context.Context, project, location, model string) (*GeminiModel, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if project != "" {
		cfg.Backend = genai.BackendVertexAI
		cfg.Project = project
		cfg.Location = location
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiModel: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiModel{client: client, model: model}, nil
}

// Generate implements Model.
func (g *GeminiModel) Generate(ctx context.Context, prompt string, pdf []byte) (string, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{
					InlineData: &genai.Blob{
						MIMEType: "application/pdf",
						Data:     pdf,
					},
				},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Generate: generate content: %w", err)
	}
	return resp.Text(), nil
}

// GeminiReader extracts movements from PDF statements with a language model.
type GeminiReader struct {
	model Model
}

// NewGeminiReader creates a PDF reader over the given model.
func NewGeminiReader(model Model) *GeminiReader {
	return &GeminiReader{model: model}
}

func (r *GeminiReader) Name() string { return "gemini-pdf" }

// Parse implements Reader.
func (r *GeminiReader) Parse(ctx context.Context, fileName string, data []byte) (*domain.ParsedStatement, error) {
	if strings.ToLower(filepath.Ext(fileName)) != ".pdf" && !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, ErrUnsupported
	}

	raw, err := r.model.Generate(ctx, statementPrompt, data)
	if err != nil {
		return nil, fmt.Errorf("GeminiReader.Parse: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("GeminiReader.Parse: empty response from model")
	}

	parsed, err := decodeModelStatement(cleanModelJSON(raw))
	if err != nil {
		return nil, fmt.Errorf("GeminiReader.Parse: %w\nraw response: %s", err, raw)
	}
	return parsed, nil
}

type modelStatement struct {
	IBAN          *string          `json:"iban"`
	AccountNumber *string          `json:"account_number"`
	AccountName   *string          `json:"account_name"`
	Movements     []map[string]any `json:"movements"`
}

func decodeModelStatement(clean string) (*domain.ParsedStatement, error) {
	dec := json.NewDecoder(strings.NewReader(clean))
	dec.UseNumber()

	var ms modelStatement
	if err := dec.Decode(&ms); err != nil {
		return nil, fmt.Errorf("decodeModelStatement: unmarshal JSON: %w", err)
	}

	parsed := &domain.ParsedStatement{
		Header: domain.StatementHeader{
			AccountIBAN:   deref(ms.IBAN),
			AccountNumber: deref(ms.AccountNumber),
			Description:   deref(ms.AccountName),
		},
	}
	for i, obj := range ms.Movements {
		m, err := movementFromModel(obj)
		if err != nil {
			return nil, fmt.Errorf("movement %d: %w", i, err)
		}
		parsed.Movements = append(parsed.Movements, m)
	}
	return parsed, nil
}

func movementFromModel(obj map[string]any) (domain.StatementMovement, error) {
	var m domain.StatementMovement

	dateStr, err := getStringField(obj, "booking_date", true)
	if err != nil {
		return m, err
	}
	if m.BookingDate, err = time.Parse("2006-01-02", dateStr); err != nil {
		return m, fmt.Errorf("invalid booking_date %q: %w", dateStr, err)
	}
	if v, err := getOptionalStringField(obj, "valuta_date"); err != nil {
		return m, err
	} else if v != nil {
		if m.ValutaDate, err = time.Parse("2006-01-02", *v); err != nil {
			return m, fmt.Errorf("invalid valuta_date %q: %w", *v, err)
		}
	}

	amount, err := getDecimalField(obj, "amount")
	if err != nil {
		return m, err
	}
	if !amount.Valid {
		return m, fmt.Errorf("missing required field %q", "amount")
	}
	m.Amount = amount.Decimal

	if m.CurrencyCode, err = getStringField(obj, "currency", false); err != nil {
		return m, err
	}
	m.CurrencyCode = strings.ToUpper(m.CurrencyCode)
	if m.Subject, err = getStringField(obj, "subject", false); err != nil {
		return m, err
	}
	counterparty, err := getOptionalStringField(obj, "counterparty")
	if err != nil {
		return m, err
	}
	m.Counterparty = deref(counterparty)
	postingText, err := getOptionalStringField(obj, "posting_text")
	if err != nil {
		return m, err
	}
	m.PostingDescription = deref(postingText)

	if m.Quantity, err = getDecimalField(obj, "quantity"); err != nil {
		return m, err
	}
	if m.Fee, err = getDecimalField(obj, "fee"); err != nil {
		return m, err
	}
	if m.Tax, err = getDecimalField(obj, "tax"); err != nil {
		return m, err
	}
	if pending, ok := obj["pending"].(bool); ok {
		m.IsPreview = pending
	}
	return m, nil
}

func getStringField(m map[string]any, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return strings.TrimSpace(val), nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getOptionalStringField(m map[string]any, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
}

// getDecimalField reads a JSON number (or numeric string) without going through float64.
func getDecimalField(m map[string]any, key string) (decimal.NullDecimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.NullDecimal{}, nil
	}
	var s string
	switch val := v.(type) {
	case json.Number:
		s = val.String()
	case string:
		s = val
	default:
		return decimal.NullDecimal{}, fmt.Errorf("field %q has type %T, want number", key, v)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("field %q: %w", key, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// cleanModelJSON strips Markdown fences and text around the JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

var _ Reader = (*GeminiReader)(nil)
