package reply

// minBreakFraction keeps newline-aligned splits from producing pathologically
// short chunks: a newline earlier than 40% of the limit is ignored in favour
// of a hard cut.
const minBreakFraction = 0.4

// Split breaks text into chunks of at most limit runes, preferring to cut at
// the last newline within the limit. The newline consumed at a cut boundary
// is elided from the output; re-joining the chunks with those newlines
// reproduces the input exactly. Empty input yields one empty chunk.
func Split(text string, limit int) []string {
	if text == "" {
		return []string{""}
	}

	minBreak := int(float64(limit) * minBreakFraction)
	parts := make([]string, 0, 1)
	remaining := []rune(text)
	for len(remaining) > 0 {
		if len(remaining) <= limit {
			parts = append(parts, string(remaining))
			break
		}
		cut := lastNewlineWithin(remaining, limit)
		if cut < minBreak {
			cut = limit
		}
		parts = append(parts, string(remaining[:cut]))
		remaining = remaining[cut:]
		if len(remaining) > 0 && remaining[0] == '\n' {
			remaining = remaining[1:]
		}
	}
	return parts
}

// lastNewlineWithin returns the index of the last newline at or before limit,
// or -1 when the window holds none.
func lastNewlineWithin(runes []rune, limit int) int {
	for i := limit; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}

// Plan selects the chunking for an outgoing reply. Markdown formatting is
// honoured only when the whole text fits under the stricter markdown limit;
// otherwise the reply falls back to plain chunks under the larger plain
// limit, so a formatted message never exceeds its length contract.
func Plan(text string, markdown bool, markdownLimit, plainLimit int) (chunks []string, useMarkdown bool) {
	limit := plainLimit
	if markdown {
		if len([]rune(text)) <= markdownLimit {
			return Split(text, markdownLimit), true
		}
	}
	return Split(text, limit), false
}
