package ingestion

import (
	"regexp"
	"strings"
)

var (
	macLabeledPattern = regexp.MustCompile(`(?i)MAC\s*Address[\s:]*(([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2})`)
	macParenPattern   = regexp.MustCompile(`(?i)MAC address\((.*?)\)`)
	macBarePattern    = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)
)

// ExtractMAC pulls the device hardware identifier out of the header row.
// Cell (1,1) is checked first, then the remaining cells in order, first
// match wins. Three vendor header variants are recognized:
//
//  1. a "MAC Address" label immediately followed by a colon/hyphen
//     delimited 6-byte hex sequence,
//  2. "MAC address(...)" with the identifier in parentheses,
//  3. a cell whose whole trimmed content is a bare hex sequence.
//
// Matches in canonical form are upper-cased with colon separators; the
// parenthesized variant is returned verbatim when it is not MAC-shaped.
func ExtractMAC(headerRow []string) (string, error) {
	for _, cell := range headerRow {
		if cell == "" {
			continue
		}
		if match := macLabeledPattern.FindStringSubmatch(cell); match != nil {
			return canonicalMAC(match[1]), nil
		}
		if match := macParenPattern.FindStringSubmatch(cell); match != nil {
			return canonicalMAC(strings.TrimSpace(match[1])), nil
		}
		if macBarePattern.MatchString(cell) {
			return canonicalMAC(cell), nil
		}
	}
	return "", ErrMACNotFound
}

func canonicalMAC(raw string) string {
	if !macBarePattern.MatchString(raw) {
		return raw
	}
	return strings.ToUpper(strings.ReplaceAll(raw, "-", ":"))
}
