package domain

import (
	"fmt"
	"strings"
)

// NormalizeNIS coerces a municipality code to the canonical fixed-width
// five-digit form. Sources publish the same code as "21004", 21004,
// "21004.0" (spreadsheet float cells) or " 1000 "; all normalize to the same
// string. Returns an error for anything that is not a 1-5 digit integer.
func NormalizeNIS(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	// Spreadsheet readers render integer cells as floats ("21004.0").
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac := s[i+1:]
		if strings.Trim(frac, "0") != "" {
			return "", fmt.Errorf("invalid NIS code %q: fractional value", raw)
		}
		s = s[:i]
	}
	if s == "" {
		return "", fmt.Errorf("invalid NIS code %q: empty", raw)
	}
	if len(s) > 5 {
		return "", fmt.Errorf("invalid NIS code %q: more than five digits", raw)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", fmt.Errorf("invalid NIS code %q: non-digit character", raw)
		}
	}
	return strings.Repeat("0", 5-len(s)) + s, nil
}
