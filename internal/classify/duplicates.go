package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// DuplicateLookbackDays is how far back committed bank postings are compared.
const DuplicateLookbackDays = 180

// DuplicateWindowStart returns the earliest booking date considered by duplicate detection.
func DuplicateWindowStart(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -DuplicateLookbackDays)
}

// MarkDuplicates flags every entry that matches an existing bank posting of the draft's
// account by booking date, amount and case-insensitive subject. Matching entries become
// AlreadyBooked. It returns the number of entries flagged.
func MarkDuplicates(d *domain.StatementDraft, existing []domain.Posting) (int, error) {
	if !d.HasDetectedAccount() || len(existing) == 0 {
		return 0, nil
	}

	byDate := make(map[string][]domain.Posting)
	for _, p := range existing {
		if p.Kind != domain.PostingKindBank || p.AccountID != d.DetectedAccountID {
			continue
		}
		key := dateKey(p.BookingDate)
		byDate[key] = append(byDate[key], p)
	}

	flagged := 0
	for _, e := range d.Entries {
		if e.Status == domain.EntryStatusAlreadyBooked {
			continue
		}
		if !hasMatchingPosting(e, byDate[dateKey(e.BookingDate)]) {
			continue
		}
		if err := e.MarkAlreadyBooked(); err != nil {
			return flagged, fmt.Errorf("MarkDuplicates: %w", err)
		}
		flagged++
	}
	return flagged, nil
}

func hasMatchingPosting(e *domain.StatementDraftEntry, candidates []domain.Posting) bool {
	for _, p := range candidates {
		if p.Amount.Equal(e.Amount) && strings.EqualFold(strings.TrimSpace(p.Subject), strings.TrimSpace(e.Subject)) {
			return true
		}
	}
	return false
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
