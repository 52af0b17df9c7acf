package validation

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// MessageBodyOK reports whether a trimmed message body is non-empty and
// within the length cap. Length is counted in runes so accented text is
// not penalized for its encoding.
func MessageBodyOK(body string, max int) bool {
	body = strings.TrimSpace(body)
	if body == "" {
		return false
	}
	return utf8.RuneCountInString(body) <= max
}

// TrimBody normalizes a message body before persistence.
func TrimBody(body string) string {
	return strings.TrimSpace(body)
}

// ParseIDList parses a comma-separated list of positive ids, dropping
// blanks and rejecting anything non-numeric.
func ParseIDList(s string) ([]uint, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]uint, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil || n == 0 {
			return nil, false
		}
		out = append(out, uint(n))
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// ValidateClassName accepts the establishment's class labels, e.g. "6A" or
// "Terminale S2". Loose on purpose; the directory is the authority.
func ValidateClassName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && utf8.RuneCountInString(name) <= 40
}

// TrimAndLimit trims whitespace and hard-caps the byte length.
func TrimAndLimit(s string, max int) string {
	s = strings.TrimSpace(s)
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}
