package utils

import "strings"

// Truncate shortens text to at most limit runes, marking the cut with "…".
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit == 1 {
		return "…"
	}
	return string(runes[:limit-1]) + "…"
}

// OneLine collapses newlines and runs of whitespace so text fits a table cell.
func OneLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
