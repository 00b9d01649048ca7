package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/domain"
)

type contactMatcher struct {
	contact *domain.Contact
	name    string
	aliases []*regexp.Regexp
}

// contactIndex holds the owner's contacts in a fixed order with precompiled alias patterns.
type contactIndex struct {
	matchers []contactMatcher
	byID     map[string]*domain.Contact
	self     *domain.Contact
}

func newContactIndex(contacts []domain.Contact, log zerolog.Logger) *contactIndex {
	sorted := make([]domain.Contact, len(contacts))
	copy(sorted, contacts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].ID < sorted[j].ID
	})

	idx := &contactIndex{byID: make(map[string]*domain.Contact, len(sorted))}
	for i := range sorted {
		c := &sorted[i]
		idx.byID[c.ID] = c
		if c.IsSelf() && idx.self == nil {
			idx.self = c
		}

		m := contactMatcher{contact: c, name: Normalize(c.Name, false)}
		patterns := append([]string(nil), c.AliasPatterns...)
		sort.Strings(patterns)
		for _, p := range patterns {
			if strings.TrimSpace(p) == "" {
				continue
			}
			re, err := compileWildcard(p)
			if err != nil {
				log.Warn().Err(err).Str("contact_id", c.ID).Msg("Skipping invalid alias pattern")
				continue
			}
			m.aliases = append(m.aliases, re)
		}
		idx.matchers = append(idx.matchers, m)
	}
	return idx
}

// resolve finds the contact for a piece of recipient or subject text. The first rule that
// matches wins: exact name, name containment, alias pattern, alias pattern on the text
// without whitespace.
func (idx *contactIndex) resolve(text string) *domain.Contact {
	normalized := Normalize(text, false)
	if normalized == "" {
		return nil
	}

	for _, m := range idx.matchers {
		if m.name != "" && m.name == normalized {
			return m.contact
		}
	}
	for _, m := range idx.matchers {
		if m.name != "" && strings.Contains(normalized, m.name) {
			return m.contact
		}
	}
	if c := idx.matchAlias(normalized); c != nil {
		return c
	}
	return idx.matchAlias(removeWhitespace(normalized))
}

func (idx *contactIndex) matchAlias(text string) *domain.Contact {
	for _, m := range idx.matchers {
		for _, re := range m.aliases {
			if re.MatchString(text) {
				return m.contact
			}
		}
	}
	return nil
}

func (idx *contactIndex) get(id string) *domain.Contact {
	if id == "" {
		return nil
	}
	return idx.byID[id]
}
