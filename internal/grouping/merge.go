package grouping

import (
	"strings"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// mergeSmallGroups folds monthly groups smaller than minSize into their neighbours.
// Split parts are never merged; they separate the sequence into independent segments.
func mergeSmallGroups(groups []MovementGroup, minSize int) []MovementGroup {
	var out, segment []MovementGroup
	for _, g := range groups {
		if g.IsSplitPart {
			out = append(out, mergeSegment(segment, minSize)...)
			out = append(out, g)
			segment = nil
			continue
		}
		segment = append(segment, g)
	}
	return append(out, mergeSegment(segment, minSize)...)
}

// mergeSegment applies the minimum-size policy to a run of whole-month groups.
// Groups with at least minSize movements are anchors; the others are small.
func mergeSegment(groups []MovementGroup, minSize int) []MovementGroup {
	if len(groups) == 0 {
		return nil
	}

	var anchors []int
	for i, g := range groups {
		if g.Size() >= minSize {
			anchors = append(anchors, i)
		}
	}
	if len(anchors) == 0 {
		return mergeWithoutAnchors(groups, minSize)
	}

	var out []MovementGroup
	first := groups[anchors[0]]
	if anchors[0] > 0 {
		var blocks []MovementGroup
		blocks, first = mergeLeadingRun(groups[:anchors[0]], first, minSize)
		out = append(out, blocks...)
	}
	out = append(out, first)

	for k := 1; k < len(anchors); k++ {
		run := groups[anchors[k-1]+1 : anchors[k]]
		right := distributeBetweenAnchors(&out[len(out)-1], run, groups[anchors[k]])
		out = append(out, right)
	}

	if last := anchors[len(anchors)-1]; last < len(groups)-1 {
		out = mergeTrailingRun(out, groups[last+1:], minSize)
	}
	return out
}

// mergeWithoutAnchors accumulates groups until each merged block reaches minSize.
// An undersized remainder joins the last block, or stands alone if no block was built.
func mergeWithoutAnchors(groups []MovementGroup, minSize int) []MovementGroup {
	var out []MovementGroup
	var acc MovementGroup
	for _, g := range groups {
		acc = joinGroups(acc, g)
		if acc.Size() >= minSize {
			out = append(out, acc)
			acc = MovementGroup{}
		}
	}
	if acc.Size() > 0 {
		if len(out) > 0 {
			out[len(out)-1] = joinGroups(out[len(out)-1], acc)
		} else {
			out = append(out, acc)
		}
	}
	return out
}

// mergeLeadingRun cuts the small groups before the first anchor into blocks of exactly
// minSize movements. Leftover movements are prepended to the anchor.
func mergeLeadingRun(run []MovementGroup, anchor MovementGroup, minSize int) ([]MovementGroup, MovementGroup) {
	var movements []domain.StatementMovement
	for _, g := range run {
		movements = append(movements, g.Movements...)
	}

	var blocks []MovementGroup
	for len(movements) >= minSize {
		blocks = append(blocks, groupFromMovements(movements[:minSize]))
		movements = movements[minSize:]
	}
	if len(movements) > 0 {
		anchor = joinGroups(groupFromMovements(movements), anchor)
	}
	return blocks, anchor
}

// distributeBetweenAnchors attaches the small groups between two anchors.
// A single small group goes to the right anchor. Several are handed out one month at a
// time to whichever side currently holds fewer movements, ties going left.
func distributeBetweenAnchors(left *MovementGroup, run []MovementGroup, right MovementGroup) MovementGroup {
	switch len(run) {
	case 0:
		return right
	case 1:
		return joinGroups(run[0], right)
	}

	var prefix MovementGroup
	for _, g := range run {
		if left.Size() <= prefix.Size()+right.Size() {
			*left = joinGroups(*left, g)
		} else {
			prefix = joinGroups(prefix, g)
		}
	}
	return joinGroups(prefix, right)
}

// mergeTrailingRun handles small groups after the last anchor. It builds standalone blocks
// of at least minSize movements; a final undersized remainder joins the previous block or anchor.
func mergeTrailingRun(out []MovementGroup, run []MovementGroup, minSize int) []MovementGroup {
	var acc MovementGroup
	for _, g := range run {
		acc = joinGroups(acc, g)
		if acc.Size() >= minSize {
			out = append(out, acc)
			acc = MovementGroup{}
		}
	}
	if acc.Size() > 0 {
		out[len(out)-1] = joinGroups(out[len(out)-1], acc)
	}
	return out
}

// joinGroups concatenates two groups in order. The zero group is the identity.
func joinGroups(a, b MovementGroup) MovementGroup {
	if a.Size() == 0 && a.Label == "" {
		return b
	}
	if b.Size() == 0 && b.Label == "" {
		return a
	}
	joined := MovementGroup{
		Label:     mergeLabels(a.Label, b.Label),
		Movements: make([]domain.StatementMovement, 0, a.Size()+b.Size()),
	}
	joined.Movements = append(joined.Movements, a.Movements...)
	joined.Movements = append(joined.Movements, b.Movements...)
	if a.Year == b.Year && a.Month == b.Month {
		joined.Year, joined.Month = a.Year, a.Month
	}
	return joined
}

// groupFromMovements builds a group labelled after the months its movements fall in.
func groupFromMovements(movements []domain.StatementMovement) MovementGroup {
	g := MovementGroup{Movements: append([]domain.StatementMovement(nil), movements...)}
	for i, m := range movements {
		g.Label = mergeLabels(g.Label, m.MonthLabel())
		y, mon, _ := m.BookingDate.Date()
		switch {
		case i == 0:
			g.Year, g.Month = y, mon
		case g.Year != y || g.Month != mon:
			g.Year, g.Month = 0, 0
		}
	}
	return g
}

// mergeLabels joins '+'-separated month labels, dropping duplicates and keeping order.
func mergeLabels(a, b string) string {
	var parts []string
	seen := make(map[string]bool)
	for _, label := range []string{a, b} {
		if label == "" {
			continue
		}
		for _, p := range strings.Split(label, "+") {
			if !seen[p] {
				seen[p] = true
				parts = append(parts, p)
			}
		}
	}
	return strings.Join(parts, "+")
}
