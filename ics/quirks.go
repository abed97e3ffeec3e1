package ics

import (
	"regexp"
	"strings"
)

// offsetQuirk matches vendor UTC offsets in timezone rules so the hour field
// can be range checked.
var offsetQuirk = regexp.MustCompile(`(TZOFFSET(?:FROM|TO):[+-])(\d{4,6})`)

// applyVendorFixes repairs known vendor deviations in raw calendar text
// before lexing. Callers opt in per parse.
//
// Covered today:
//   - doubled CRLF blank lines from Apple exports
//   - UTC offsets with an hour field past 23, like Apple's "+5328" for a
//     53-minute LMT offset, rewritten to "+0053"
func applyVendorFixes(data []byte) []byte {
	text := strings.ReplaceAll(string(data), "\r\n\r\n", "\r\n")
	text = offsetQuirk.ReplaceAllStringFunc(text, func(m string) string {
		i := strings.LastIndexAny(m, "+-")
		head, digits := m[:i+1], m[i+1:]
		if len(digits) != 4 {
			return m
		}
		h := int(digits[0]-'0')*10 + int(digits[1]-'0')
		if h <= 23 {
			return m
		}
		return head + "00" + digits[:2]
	})
	return []byte(text)
}
