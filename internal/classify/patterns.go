package classify

import (
	"fmt"
	"regexp"
	"strings"
)

// compileWildcard turns an alias pattern with '*' and '?' into a regexp matching the whole
// normalized string. Every other character is literal.
func compileWildcard(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	for _, r := range Normalize(pattern, false) {
		switch r {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compileWildcard: pattern %q: %w", pattern, err)
	}
	return re, nil
}
