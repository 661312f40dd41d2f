package coordinator

import (
	"sort"
	"strings"
)

// ParseSymbols splits a comma separated query value.
func ParseSymbols(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// NormalizeKey derives the order-independent connection key for a symbol set.
// Symbols are trimmed, upper-cased, de-duplicated and sorted; the resolved
// list is returned alongside the key. An empty key means no usable symbols.
func NormalizeKey(symbols []string) (string, []string) {
	seen := make(map[string]struct{}, len(symbols))
	resolved := make([]string, 0, len(symbols))

	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		resolved = append(resolved, s)
	}

	sort.Strings(resolved)
	return strings.Join(resolved, ","), resolved
}
