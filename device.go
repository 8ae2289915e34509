package agentpush

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DeviceName returns a human-readable device name. When the model already
// starts with the manufacturer (case-insensitively) only the model is used.
func DeviceName(manufacturer, model string) string {
	if strings.HasPrefix(strings.ToLower(model), strings.ToLower(manufacturer)) {
		return Capitalize(model)
	}
	return strings.TrimSpace(Capitalize(manufacturer) + " " + model)
}

// Capitalize upper-cases the first rune of s.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
