package pdf

import (
	"strings"
	"unicode"
)

// Sanitize strips bytes that text columns reject: invalid UTF-8 sequences,
// NUL and every C0 control other than newline, carriage return and tab.
func Sanitize(text string) string {
	text = strings.ToValidUTF8(text, "")
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		if r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, text)
}
