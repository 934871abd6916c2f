package prune

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextShortPassthrough(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Text("", "message"))
	assert.Equal(t, "short text", Text("short text", "message"))
}

func TestTextPrunesOversizedBytes(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("x", DefaultMaxBytes+1)
	out := Text(input, "message")
	require.NotEqual(t, input, out)
	assert.Contains(t, out, "[codexrelay pruned] message too long")
	assert.Contains(t, out, "[...snip...]")
	assert.LessOrEqual(t, len(out), DefaultMaxBytes)
}

func TestTextPrunesOversizedLines(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("line\n", DefaultMaxLines+10)
	out := Text(input, "stderr")
	assert.Contains(t, out, "stderr too long")
	assert.LessOrEqual(t, CountLines(out), DefaultMaxLines)
}

func TestTextKeepsHeadAndTail(t *testing.T) {
	t.Parallel()

	input := "FIRST\n" + strings.Repeat("m", DefaultMaxBytes) + "\nLAST"
	out := Text(input, "message")
	assert.Contains(t, out, "FIRST")
	assert.Contains(t, out, "LAST")
}

func TestTextUTF8Boundary(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("я", DefaultMaxBytes)
	out := Text(input, "message")
	assert.True(t, strings.ToValidUTF8(out, "?") == out, "pruned output must stay valid UTF-8")
}

func TestCountLines(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, CountLines(""))
	assert.Equal(t, 1, CountLines("a"))
	assert.Equal(t, 3, CountLines("a\nb\nc"))
}
