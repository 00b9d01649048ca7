package domain

import "fmt"

// Severity of a validation message.
type Severity string

const (
	SeverityError       Severity = "Error"
	SeverityWarning     Severity = "Warning"
	SeverityInformation Severity = "Information"
)

// Validation message codes.
const (
	CodeEntryNoContact           = "ENTRY_NO_CONTACT"
	CodeEntryOpen                = "ENTRY_OPEN"
	CodeIntermediaryNoSplit      = "INTERMEDIARY_NO_SPLIT"
	CodeSplitDraftNotFound       = "SPLIT_DRAFT_NOT_FOUND"
	CodeSplitAmountMismatch      = "SPLIT_AMOUNT_MISMATCH"
	CodeSplitDraftHasAccount     = "SPLIT_DRAFT_HAS_ACCOUNT"
	CodeSplitCycleDetected       = "SPLIT_CYCLE_DETECTED"
	CodeSelfNoSavingsPlan        = "SELF_NO_SAVINGSPLAN"
	CodeSavingsPlanOnSavingsAcct = "SAVINGSPLAN_ON_SAVINGS_ACCOUNT"
	CodeSecurityNoBankContact    = "SECURITY_NO_BANK_CONTACT"
	CodeSecurityNoTxType         = "SECURITY_NO_TRANSACTION_TYPE"
	CodeSecurityQuantityMissing  = "SECURITY_QUANTITY_MISSING"
	CodeSecurityDividendQuantity = "SECURITY_DIVIDEND_WITH_QUANTITY"
	CodeSecurityFeeTaxExceeds    = "SECURITY_FEE_TAX_EXCEEDS_AMOUNT"
	CodeSavingsPlanGoalReached   = "SAVINGSPLAN_GOAL_REACHED"
	CodeSavingsPlanGoalExceeded  = "SAVINGSPLAN_GOAL_EXCEEDED"
	CodeSavingsPlanDue           = "SAVINGSPLAN_DUE"
	CodeSavingsPlanArchived      = "SAVINGSPLAN_ARCHIVED"
	CodeNoAccount                = "NO_ACCOUNT"
	CodeSplitTargetNotBookable   = "SPLIT_TARGET_NOT_BOOKABLE"
	CodeDraftCommitted           = "DRAFT_COMMITTED"
	CodeEntryNotBookable         = "ENTRY_NOT_BOOKABLE"
)

// ValidationMessage is a business-rule finding. It never aborts an operation by itself.
type ValidationMessage struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	DraftID  string   `json:"draft_id"`
	EntryID  string   `json:"entry_id,omitempty"`
}

// ValidationResult collects the messages produced for one draft.
type ValidationResult struct {
	DraftID  string              `json:"draft_id"`
	IsValid  bool                `json:"is_valid"`
	Messages []ValidationMessage `json:"messages"`
}

// NewValidationResult returns an empty, valid result.
func NewValidationResult(draftID string) *ValidationResult {
	return &ValidationResult{DraftID: draftID, IsValid: true, Messages: []ValidationMessage{}}
}

// Add appends a message and keeps IsValid in sync.
func (r *ValidationResult) Add(code string, severity Severity, draftID, entryID, format string, args ...any) {
	r.Messages = append(r.Messages, ValidationMessage{
		Code:     code,
		Severity: severity,
		Message:  fmt.Sprintf(format, args...),
		DraftID:  draftID,
		EntryID:  entryID,
	})
	if severity == SeverityError {
		r.IsValid = false
	}
}

// HasErrors reports whether any message has Error severity.
func (r *ValidationResult) HasErrors() bool {
	return r.count(SeverityError) > 0
}

// HasWarnings reports whether any message has Warning severity.
func (r *ValidationResult) HasWarnings() bool {
	return r.count(SeverityWarning) > 0
}

func (r *ValidationResult) count(s Severity) int {
	n := 0
	for _, m := range r.Messages {
		if m.Severity == s {
			n++
		}
	}
	return n
}

// BookingResult is returned by the booking engine.
type BookingResult struct {
	Success         bool              `json:"success"`
	HasWarnings     bool              `json:"has_warnings"`
	Validation      *ValidationResult `json:"validation"`
	BookedCount     int               `json:"booked_count"`
	NextOpenDraftID string            `json:"next_open_draft_id,omitempty"`
}

// SplitMode selects how an import is divided into drafts.
type SplitMode string

const (
	SplitModeMonthly        SplitMode = "Monthly"
	SplitModeFixedSize      SplitMode = "FixedSize"
	SplitModeMonthlyOrFixed SplitMode = "MonthlyOrFixed"
)

// ParseSplitMode validates a split mode name.
func ParseSplitMode(s string) (SplitMode, error) {
	switch m := SplitMode(s); m {
	case SplitModeMonthly, SplitModeFixedSize, SplitModeMonthlyOrFixed:
		return m, nil
	}
	return "", fmt.Errorf("split mode %q: %w", s, ErrInvalidArgument)
}

// SplitSettings controls the movement grouper.
type SplitSettings struct {
	Mode                  SplitMode `yaml:"mode"`
	MaxEntriesPerDraft    int       `yaml:"max_entries_per_draft"`
	MonthlySplitThreshold int       `yaml:"monthly_split_threshold"`
	MinEntriesPerDraft    int       `yaml:"min_entries_per_draft"`
}

// ImportSplitInfo summarises how an import was split.
type ImportSplitInfo struct {
	Mode               SplitMode `json:"mode"`
	EffectiveMonthly   bool      `json:"effective_monthly"`
	DraftCount         int       `json:"draft_count"`
	TotalMovements     int       `json:"total_movements"`
	MaxEntriesPerDraft int       `json:"max_entries_per_draft"`
	LargestDraftSize   int       `json:"largest_draft_size"`
	MonthlyThreshold   int       `json:"monthly_threshold"`
}
