package model

import "unicode/utf8"

// Column widths, in characters, shared by the schema tags and the code
// that fills them.
const (
	MaxMessageIDLength = 512
	MaxSubjectLength   = 512
	MaxAddressLength   = 255
	MaxNameLength      = 255
	MaxPhoneLength     = 64
	MaxTitleLength     = 255
)

// Truncate clips s to at most n runes without splitting a UTF-8 sequence
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
