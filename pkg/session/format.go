package session

import (
	"encoding/hex"
	"strings"
	"unicode"
)

const maxSummary = 120

// summarize renders a payload for logs: text protocols as their first line,
// binary ones as hex.
func summarize(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if !printable(b) {
		if len(b) > maxSummary/2 {
			return hex.EncodeToString(b[:maxSummary/2]) + "..."
		}
		return hex.EncodeToString(b)
	}
	line, _, _ := strings.Cut(string(b), "\r\n")
	if len(line) > maxSummary {
		line = line[:maxSummary] + "..."
	}
	return line
}

func printable(b []byte) bool {
	for _, r := range string(b) {
		if r == unicode.ReplacementChar || (!unicode.IsPrint(r) && !unicode.IsSpace(r)) {
			return false
		}
	}
	return true
}
