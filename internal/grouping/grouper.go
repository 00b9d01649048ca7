// Package grouping splits a parsed statement into draft-sized groups of movements.
package grouping

import (
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// MovementGroup is the set of movements that becomes one statement draft.
type MovementGroup struct {
	Label       string
	Movements   []domain.StatementMovement
	IsSplitPart bool

	// Year and Month are zero when the group is not a single calendar month.
	Year  int
	Month time.Month
}

// HasMonth reports whether the group covers exactly one calendar month.
func (g MovementGroup) HasMonth() bool {
	return g.Year != 0
}

// Size returns the number of movements in the group.
func (g MovementGroup) Size() int {
	return len(g.Movements)
}

// Group divides movements into draft groups according to the split settings.
// The result is deterministic for the same input and settings.
func Group(movements []domain.StatementMovement, s domain.SplitSettings) ([]MovementGroup, domain.ImportSplitInfo) {
	sorted := sortMovements(movements)
	monthly := isEffectiveMonthly(s, len(sorted))

	var groups []MovementGroup
	if monthly {
		groups = groupByMonth(sorted, s.MaxEntriesPerDraft)
		if s.MinEntriesPerDraft > 1 {
			groups = mergeSmallGroups(groups, s.MinEntriesPerDraft)
		}
	} else {
		groups = groupBySize(sorted, s.MaxEntriesPerDraft)
	}

	info := domain.ImportSplitInfo{
		Mode:               s.Mode,
		EffectiveMonthly:   monthly,
		DraftCount:         len(groups),
		TotalMovements:     len(sorted),
		MaxEntriesPerDraft: s.MaxEntriesPerDraft,
		MonthlyThreshold:   s.MonthlySplitThreshold,
	}
	for _, g := range groups {
		if g.Size() > info.LargestDraftSize {
			info.LargestDraftSize = g.Size()
		}
	}
	return groups, info
}

func isEffectiveMonthly(s domain.SplitSettings, total int) bool {
	switch s.Mode {
	case domain.SplitModeMonthly:
		return true
	case domain.SplitModeMonthlyOrFixed:
		return total > s.MonthlySplitThreshold
	default:
		return false
	}
}

// sortMovements returns a copy ordered by booking date, then subject.
func sortMovements(movements []domain.StatementMovement) []domain.StatementMovement {
	sorted := make([]domain.StatementMovement, len(movements))
	copy(sorted, movements)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.BookingDate.Equal(b.BookingDate) {
			return a.BookingDate.Before(b.BookingDate)
		}
		return a.Subject < b.Subject
	})
	return sorted
}

func groupByMonth(movements []domain.StatementMovement, maxEntries int) []MovementGroup {
	var groups []MovementGroup
	for start := 0; start < len(movements); {
		y, m, _ := movements[start].BookingDate.Date()
		end := start
		for end < len(movements) {
			ey, em, _ := movements[end].BookingDate.Date()
			if ey != y || em != m {
				break
			}
			end++
		}

		bucket := movements[start:end]
		label := fmt.Sprintf("%04d-%02d", y, int(m))
		if maxEntries > 0 && len(bucket) > maxEntries {
			for k, part := range chunk(bucket, maxEntries) {
				groups = append(groups, MovementGroup{
					Label:       fmt.Sprintf("%s (Part %d)", label, k+1),
					Movements:   part,
					IsSplitPart: true,
					Year:        y,
					Month:       m,
				})
			}
		} else {
			groups = append(groups, MovementGroup{Label: label, Movements: bucket, Year: y, Month: m})
		}
		start = end
	}
	return groups
}

func groupBySize(movements []domain.StatementMovement, maxEntries int) []MovementGroup {
	if len(movements) == 0 {
		return nil
	}
	parts := chunk(movements, maxEntries)
	if len(parts) == 1 {
		return []MovementGroup{{Movements: parts[0]}}
	}
	groups := make([]MovementGroup, 0, len(parts))
	for k, part := range parts {
		groups = append(groups, MovementGroup{
			Label:       fmt.Sprintf("Part %d", k+1),
			Movements:   part,
			IsSplitPart: true,
		})
	}
	return groups
}

// chunk cuts movements into consecutive parts of at most size elements.
// A non-positive size yields a single part.
func chunk(movements []domain.StatementMovement, size int) [][]domain.StatementMovement {
	if size <= 0 || len(movements) <= size {
		return [][]domain.StatementMovement{movements}
	}
	var parts [][]domain.StatementMovement
	for start := 0; start < len(movements); start += size {
		end := start + size
		if end > len(movements) {
			end = len(movements)
		}
		parts = append(parts, movements[start:end])
	}
	return parts
}
