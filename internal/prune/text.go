package prune

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	marker = "[codexrelay pruned]"

	// DefaultMaxBytes bounds a single chat-log entry or stderr dump. Anything
	// larger gets its head and tail with the middle snipped.
	DefaultMaxBytes = 8 * 1024
	DefaultMaxLines = 120

	headBytes = 3 * 1024
	tailBytes = 3 * 1024
	headLines = 40
	tailLines = 40
)

// Exceeds reports whether s is over either budget.
func Exceeds(s string, maxBytes, maxLines int) bool {
	return len(s) > maxBytes || CountLines(s) > maxLines
}

// CountLines counts newline-delimited lines, zero for empty input.
func CountLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// Text bounds s to the default budgets, keeping the head and tail of
// oversized input with a snip marker between them. label names the text in
// the marker line.
func Text(s, label string) string {
	if s == "" || !Exceeds(s, DefaultMaxBytes, DefaultMaxLines) {
		return s
	}
	head := boundedPrefix(s, headBytes, headLines)
	tail := boundedSuffix(s, tailBytes, tailLines)
	out := fmt.Sprintf(
		"%s %s too long (bytes=%d, lines=%d), showing head/tail\n\n%s\n\n[...snip...]\n\n%s",
		marker, label, len(s), CountLines(s), head, tail,
	)
	if Exceeds(out, DefaultMaxBytes, DefaultMaxLines) {
		out = limitLinesPrefix(safeUTF8Prefix(out, DefaultMaxBytes), DefaultMaxLines)
		if out == "" {
			out = marker
		}
	}
	return out
}

func boundedPrefix(s string, maxBytes, maxLines int) string {
	return limitLinesPrefix(safeUTF8Prefix(s, min(maxBytes, len(s))), maxLines)
}

func boundedSuffix(s string, maxBytes, maxLines int) string {
	return limitLinesSuffix(safeUTF8Suffix(s, min(maxBytes, len(s))), maxLines)
}

func safeUTF8Prefix(s string, maxBytes int) string {
	if maxBytes <= 0 || s == "" {
		return ""
	}
	if maxBytes >= len(s) {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func safeUTF8Suffix(s string, maxBytes int) string {
	if maxBytes <= 0 || s == "" {
		return ""
	}
	if maxBytes >= len(s) {
		return s
	}
	start := len(s) - maxBytes
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

func limitLinesPrefix(s string, maxLines int) string {
	if maxLines <= 0 || s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[:maxLines], "\n")
}

func limitLinesSuffix(s string, maxLines int) string {
	if maxLines <= 0 || s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}
