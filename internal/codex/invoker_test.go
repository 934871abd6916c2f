package codex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	stdout string
	stderr string
	err    error

	gotDir   string
	gotStdin string
	gotName  string
	gotArgs  []string
}

func (r *fakeRunner) Run(_ context.Context, dir, stdin, name string, args ...string) (string, string, error) {
	r.gotDir = dir
	r.gotStdin = stdin
	r.gotName = name
	r.gotArgs = args
	return r.stdout, r.stderr, r.err
}

func TestInvokeFreshRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{stdout: "{\"session_id\":\"s9\"}\n{\"type\":\"agent_message\",\"text\":\"  hello  \"}"}
	inv := NewInvoker(nil, Config{Binary: "codex"})
	inv.SetRunner(runner)

	result, err := inv.Invoke(context.Background(), "prompt text", "/work", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Answer)
	assert.Equal(t, "s9", result.SessionID)

	assert.Equal(t, "codex", runner.gotName)
	assert.Equal(t, []string{"--dangerously-bypass-approvals-and-sandbox", "exec", "--json", "-C", "/work", "-"}, runner.gotArgs)
	assert.Empty(t, runner.gotDir)
	assert.Equal(t, "prompt text", runner.gotStdin)
}

func TestInvokeResumesSession(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{stdout: `{"type":"agent_message","text":"again"}`}
	inv := NewInvoker(nil, Config{})
	inv.SetRunner(runner)

	result, err := inv.Invoke(context.Background(), "p", "/work", "old-session")
	require.NoError(t, err)
	assert.Equal(t, "again", result.Answer)
	// Stream declared no session id, so the resumed one is kept.
	assert.Equal(t, "old-session", result.SessionID)

	assert.Equal(t, []string{"--dangerously-bypass-approvals-and-sandbox", "exec", "resume", "old-session", "--json", "-"}, runner.gotArgs)
	assert.Equal(t, "/work", runner.gotDir)
}

func TestInvokeAppendsModel(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{stdout: "{}"}
	inv := NewInvoker(nil, Config{Model: "o4-mini"})
	inv.SetRunner(runner)

	_, err := inv.Invoke(context.Background(), "p", "/work", "")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(runner.gotArgs), 2)
	assert.Equal(t, []string{"--model", "o4-mini"}, runner.gotArgs[len(runner.gotArgs)-2:])
}

func TestInvokeProcessFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{stderr: "boom\n", err: errors.New("exit status 1")}
	inv := NewInvoker(nil, Config{})
	inv.SetRunner(runner)

	_, err := inv.Invoke(context.Background(), "p", "/work", "")
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())

	text, ok := IsInvocationError(err)
	assert.True(t, ok)
	assert.Equal(t, "boom", text)
}

func TestInvokeProcessFailureWithoutStderr(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("exit status 2")}
	inv := NewInvoker(nil, Config{})
	inv.SetRunner(runner)

	_, err := inv.Invoke(context.Background(), "p", "/work", "")
	require.Error(t, err)
	assert.Equal(t, "codex exec failed", err.Error())
}

func TestInvokeEmptyStreamKeepsSession(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{stdout: "   "}
	inv := NewInvoker(nil, Config{})
	inv.SetRunner(runner)

	result, err := inv.Invoke(context.Background(), "p", "/work", "sid")
	require.NoError(t, err)
	assert.Empty(t, result.Answer)
	assert.Equal(t, "sid", result.SessionID)
}
