package rewrite

import "strings"

// reserved reports whether the index treats r as a query operator.
func reserved(r byte) bool {
	switch r {
	case '\\', '+', '-', '!', '(', ')', ':', '^', '[', ']', '"', '{', '}', '~', '*', '?', '|', '&', ';', '/':
		return true
	}
	return r == ' ' || r == '\t'
}

// Escape backslash-escapes index-reserved characters in a term value.
// A trailing * is left alone so prefix searches keep working, and
// already-escaped sequences pass through unchanged, which keeps the
// operation idempotent.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\\' && i+1 < len(s) && reserved(s[i+1]) {
			b.WriteByte(ch)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		if ch == '*' && i == len(s)-1 {
			b.WriteByte(ch)
			continue
		}
		if reserved(ch) {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// needsEscaping reports whether a term value carries unescaped reserved
// characters. Quoted values and range expressions never need escaping.
func needsEscaping(value string) bool {
	if value == "" || value == "*" {
		return false
	}
	if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		return false
	}
	if strings.HasPrefix(value, "[") || strings.HasPrefix(value, "(") {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+1 < len(value) && reserved(value[i+1]) {
			i++
			continue
		}
		if value[i] == '*' && i == len(value)-1 {
			continue
		}
		if reserved(value[i]) {
			return true
		}
	}
	return false
}
