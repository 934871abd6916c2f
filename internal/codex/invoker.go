package codex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const processFailedMessage = "codex exec failed"

// Config holds the codex CLI invocation settings.
type Config struct {
	// Binary is the codex executable name or path.
	Binary string
	// Model is passed via --model when set.
	Model string
}

// Result is the outcome of one codex invocation.
type Result struct {
	// Answer is the final assistant text, empty when the stream produced none.
	Answer string
	// SessionID is the session declared by the stream, or the id the
	// invocation resumed when the stream declared none.
	SessionID string
}

// InvocationError carries the diagnostic text of a failed codex run.
type InvocationError struct {
	Stderr string
}

func (e *InvocationError) Error() string {
	return e.Stderr
}

// Invoker drives the codex CLI: one synchronous process per prompt, JSON
// events on stdout.
type Invoker struct {
	logger *slog.Logger
	cfg    Config
	runner Runner
}

// NewInvoker creates an Invoker for the given CLI configuration.
func NewInvoker(log *slog.Logger, cfg Config) *Invoker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "codex"
	}
	return &Invoker{
		logger: log.With(slog.String("component", "codex")),
		cfg:    cfg,
		runner: execRunner{},
	}
}

// SetRunner substitutes the process runner. Used by tests.
func (inv *Invoker) SetRunner(r Runner) {
	inv.runner = r
}

// Invoke runs codex with the prompt on stdin. A non-empty sessionID resumes
// that session with the process rooted at workdir; otherwise a fresh run is
// started with -C workdir. The returned session id falls back to the input
// one when the stream declares none.
func (inv *Invoker) Invoke(ctx context.Context, prompt, workdir, sessionID string) (Result, error) {
	args := []string{"--dangerously-bypass-approvals-and-sandbox", "exec"}
	dir := ""
	if sessionID != "" {
		args = append(args, "resume", sessionID, "--json", "-")
		dir = workdir
	} else {
		args = append(args, "--json", "-C", workdir, "-")
	}
	if inv.cfg.Model != "" {
		args = append(args, "--model", inv.cfg.Model)
	}

	stdout, stderr, err := inv.runner.Run(ctx, dir, prompt, inv.cfg.Binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("codex invocation: %w", ctx.Err())
		}
		message := strings.TrimSpace(stderr)
		if message == "" {
			message = processFailedMessage
		}
		inv.logger.Error("codex exited with failure",
			slog.String("session_id", sessionID),
			slog.String("stderr", message),
		)
		return Result{}, &InvocationError{Stderr: message}
	}

	raw := strings.TrimSpace(stdout)
	if raw == "" {
		return Result{SessionID: sessionID}, nil
	}

	parsed := ParseStream(raw)
	result := Result{
		Answer:    strings.TrimSpace(parsed.Answer),
		SessionID: parsed.SessionID,
	}
	if result.SessionID == "" {
		result.SessionID = sessionID
	}
	return result, nil
}

// IsInvocationError reports whether err is a codex process failure and
// returns its diagnostic text.
func IsInvocationError(err error) (string, bool) {
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.Stderr, true
	}
	return "", false
}
