package aggregate

import (
	"regexp"
	"sort"
	"strings"
)

// hostTokenPattern matches node names like "NODE12" inside an exec_host
// expression such as "NODE12/0+NODE03/1". Bare CPU slot numbers and the
// "-1" placeholder carry no letters and are never matched.
var hostTokenPattern = regexp.MustCompile(`(?i)[A-Z]+\d+`)

// CanonicalHostList reduces an exec_host expression to the canonical form
// "{H1_C,H2_C,...}": tokens deduplicated, sorted, each suffixed "_C".
// Returns "" when no host token is present.
func CanonicalHostList(execHost string) string {
	tokens := hostTokenPattern.FindAllString(execHost, -1)
	if len(tokens) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(tokens))
	unique := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		unique = append(unique, tok)
	}
	sort.Strings(unique)
	var b strings.Builder
	b.WriteByte('{')
	for i, tok := range unique {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(tok)
		b.WriteString("_C")
	}
	b.WriteByte('}')
	return b.String()
}
