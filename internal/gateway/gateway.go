package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codexrelay/codexrelay/internal/archive"
	"github.com/codexrelay/codexrelay/internal/chatlog"
	"github.com/codexrelay/codexrelay/internal/codex"
	"github.com/codexrelay/codexrelay/internal/prune"
	"github.com/codexrelay/codexrelay/internal/reply"
	"github.com/codexrelay/codexrelay/internal/sandbox"
	"github.com/codexrelay/codexrelay/internal/session"
)

const (
	// maxListedFiles caps the sandbox file listing embedded in prompts.
	maxListedFiles = 200
	// defaultTypingInterval bounds the wait between typing-indicator ticks,
	// which also bounds cancellation latency.
	defaultTypingInterval = 4 * time.Second
)

// Limits are the per-message and per-upload size contracts.
type Limits struct {
	PlainMessageLength    int
	MarkdownMessageLength int
	MaxUploadBytes        int64
	MaxExtractFiles       int
}

// Gateway composes the stores, the codex invoker and the chat platform into
// the event-processing flow: authorize, build prompt, invoke, reply.
type Gateway struct {
	logger     *slog.Logger
	messenger  Messenger
	downloader Downloader
	invoker    Invoker

	logs      *chatlog.Store
	sessions  *session.Store
	sandboxes *sandbox.Manager
	auth      *Authorizer

	codexWorkdir   string
	codexModel     string
	limits         Limits
	typingInterval time.Duration
}

// New creates a Gateway. The stores are shared references owned by the
// caller; the gateway is their only mutator during event processing.
func New(
	log *slog.Logger,
	messenger Messenger,
	downloader Downloader,
	invoker Invoker,
	logs *chatlog.Store,
	sessions *session.Store,
	sandboxes *sandbox.Manager,
	auth *Authorizer,
	codexWorkdir string,
	codexModel string,
	limits Limits,
) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		logger:         log.With(slog.String("component", "gateway")),
		messenger:      messenger,
		downloader:     downloader,
		invoker:        invoker,
		logs:           logs,
		sessions:       sessions,
		sandboxes:      sandboxes,
		auth:           auth,
		codexWorkdir:   codexWorkdir,
		codexModel:     codexModel,
		limits:         limits,
		typingInterval: defaultTypingInterval,
	}
}

// Stats snapshots the gateway state for the status endpoint.
func (g *Gateway) Stats() Stats {
	return Stats{
		Conversations: g.logs.Len(),
		Sessions:      g.sessions.Len(),
		Sandboxes:     g.sandboxes.Len(),
	}
}

// Capture records an inbound message into the conversation log. An allowed
// sender authorizes the conversation as a side effect; unauthorized
// conversations are not captured.
func (g *Gateway) Capture(ev Event) {
	if g.auth.AllowedUser(ev) {
		g.auth.AuthorizeChat(ev.ChatID)
	}
	if !g.auth.ChatAuthorized(ev.ChatID, ev.ChatUsername) {
		return
	}
	text := ev.Text
	if text == "" {
		text = "[non-text message]"
	}
	g.logs.Append(ev.ChatID, chatlog.Entry{
		Speaker:   ev.SenderName,
		Text:      text,
		RepliedTo: ev.RepliedToHandle,
	})
}

// HandleCommand serves /help and /status for allowed users.
func (g *Gateway) HandleCommand(ev Event) {
	if !g.auth.AllowedUser(ev) {
		g.send(ev.ChatID, msgNoAccess, false)
		return
	}
	switch {
	case strings.HasPrefix(ev.Text, "/help"):
		g.send(ev.ChatID, helpText, false)
	case strings.HasPrefix(ev.Text, "/status"):
		stats := g.Stats()
		status := fmt.Sprintf("Model: %s\nWorkdir: %s\nConversations: %d\nSessions: %d\nSandboxes: %d",
			g.codexModel, g.codexWorkdir, stats.Conversations, stats.Sessions, stats.Sandboxes)
		g.send(ev.ChatID, status, false)
	}
}

// HandleMessage reacts to a mention or a private message: it builds the
// prompt from the conversation log (groups) or the message itself (private
// chats) and runs one codex turn.
func (g *Gateway) HandleMessage(ctx context.Context, ev Event) {
	allowed := g.auth.AllowedUser(ev)
	if allowed {
		g.auth.AuthorizeChat(ev.ChatID)
	}
	if !allowed && !g.auth.ChatAuthorized(ev.ChatID, ev.ChatUsername) {
		g.logger.Info("request denied",
			slog.Int64("chat_id", ev.ChatID),
			slog.Int64("from_user_id", ev.SenderID),
		)
		g.send(ev.ChatID, msgNoAccess, false)
		return
	}
	if ev.SenderIsBot {
		return
	}
	if !ev.Private && !ev.Mentioned && !ev.ReplyToBot {
		return
	}

	prompt := ev.Text
	if !ev.Private {
		prompt = g.logs.Render(ev.ChatID)
	}
	if sb, ok := g.sandboxes.Get(ev.ChatID); ok {
		if block := g.sandboxContext(sb, ev.Text, ""); block != "" {
			prompt = prompt + "\n\n" + block
		}
	}

	g.logger.Info("request",
		slog.Int64("chat_id", ev.ChatID),
		slog.Bool("private", ev.Private),
		slog.String("text", flattenForLog(ev.Text)),
	)
	g.runAndReply(ctx, ev.ChatID, prompt, "response sent")
}

// HandleDocument ingests an uploaded file into the conversation's sandbox,
// extracting recognized archives, and runs a triage turn over the result.
func (g *Gateway) HandleDocument(ctx context.Context, ev Event) {
	doc := ev.Document
	if doc == nil {
		return
	}
	requestText := strings.TrimSpace(ev.Text)
	if requestText == "" {
		requestText = defaultTriageText
	}
	if g.auth.AllowedUser(ev) {
		g.auth.AuthorizeChat(ev.ChatID)
	}
	if !g.auth.ChatAuthorized(ev.ChatID, ev.ChatUsername) {
		g.send(ev.ChatID, msgNoAccess, false)
		return
	}
	if doc.Size > 0 && doc.Size > g.limits.MaxUploadBytes {
		g.send(ev.ChatID, msgFileTooBig, false)
		return
	}

	sb, err := g.sandboxes.Ensure(ev.ChatID, "", false)
	if err != nil {
		g.logger.Error("sandbox allocation failed", slog.Int64("chat_id", ev.ChatID), slog.Any("error", err))
		g.send(ev.ChatID, msgProcessFailed, false)
		return
	}

	filename := doc.Name
	if filename == "" {
		filename = doc.UniqueID
	}
	filename = sandbox.SanitizeFilename(filename)
	destination := filepath.Join(sb.Uploads, filename)
	if err := g.downloader.DownloadDocument(ctx, doc, destination); err != nil {
		g.logger.Error("download failed", slog.Int64("chat_id", ev.ChatID), slog.Any("error", err))
		g.send(ev.ChatID, msgDownloadFailed, false)
		return
	}

	extracted, err := archive.Extract(destination, sb.Work, g.limits.MaxExtractFiles)
	if err != nil {
		g.logger.Error("extraction failed", slog.Int64("chat_id", ev.ChatID), slog.Any("error", err))
		g.send(ev.ChatID, msgProcessFailed, false)
		return
	}
	if extracted == 0 {
		// No recognized archive format: keep the raw upload in work/ too.
		if err := copyFile(destination, filepath.Join(sb.Work, filename)); err != nil {
			g.logger.Error("copy upload failed", slog.Int64("chat_id", ev.ChatID), slog.Any("error", err))
			g.send(ev.ChatID, msgProcessFailed, false)
			return
		}
	}

	g.logger.Info("document request",
		slog.Int64("chat_id", ev.ChatID),
		slog.String("file", filename),
		slog.Int("extracted", extracted),
		slog.String("text", flattenForLog(requestText)),
	)

	uploadedPath := filepath.Join(sb.Link, filename)
	prompt := g.sandboxContext(sb, requestText, uploadedPath)
	if prompt == "" {
		saved := fmt.Sprintf("File saved: %s", uploadedPath)
		if extracted > 0 {
			saved = fmt.Sprintf("%s, files extracted: %d", saved, extracted)
		}
		g.send(ev.ChatID, saved, false)
		return
	}
	g.runAndReply(ctx, ev.ChatID, prompt, "document response sent")
}

// sandboxContext renders the prompt block describing sandbox contents, or ""
// when the sandbox holds no files yet.
func (g *Gateway) sandboxContext(sb sandbox.Sandbox, requestText, uploadedPath string) string {
	files := sandbox.ListFiles(sb, maxListedFiles)
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(sandboxPromptLabel)
	b.WriteString("\nRequest: ")
	b.WriteString(requestText)
	b.WriteString("\nSandbox path: ")
	b.WriteString(sb.Link)
	if uploadedPath != "" {
		b.WriteString("\nUploaded file: ")
		b.WriteString(uploadedPath)
	}
	b.WriteString("\nFiles available in the sandbox:")
	for _, file := range files {
		b.WriteString("\n- ")
		b.WriteString(file)
	}
	return b.String()
}

// runAndReply performs one codex turn with the typing indicator alive for its
// duration, then applies the session/sandbox rebinding policy and delivers
// the answer. All failures end as a single user-visible message.
func (g *Gateway) runAndReply(ctx context.Context, chatID int64, prompt, logLabel string) {
	sessionID, _ := g.sessions.Get(chatID)
	stopTyping := g.startTyping(chatID)
	defer stopTyping()

	started := time.Now()
	result, err := g.invoker.Invoke(ctx, prompt, g.codexWorkdir, sessionID)
	if err != nil {
		g.reportError(chatID, err)
		return
	}

	if result.SessionID != "" {
		g.rebindSandbox(chatID, sessionID, result.SessionID)
		g.sessions.Set(chatID, result.SessionID)
	} else if sessionID == "" {
		g.logger.Warn("no session id returned from codex", slog.Int64("chat_id", chatID))
	}

	if result.Answer == "" {
		g.reportError(chatID, errors.New(msgEmptyResponse))
		return
	}

	if err := g.deliver(chatID, result.Answer); err != nil {
		g.reportError(chatID, err)
		return
	}
	g.logger.Info(logLabel,
		slog.Int64("chat_id", chatID),
		slog.Duration("elapsed", time.Since(started)),
		slog.String("text", flattenForLog(result.Answer)),
	)
}

// rebindSandbox applies the session policy: a changed session id forces a
// fresh sandbox named after it; the first session of a conversation seeds a
// binding when none exists yet.
func (g *Gateway) rebindSandbox(chatID int64, oldSessionID, newSessionID string) {
	switch {
	case oldSessionID != "" && oldSessionID != newSessionID:
		if _, err := g.sandboxes.Ensure(chatID, newSessionID, true); err != nil {
			g.logger.Error("sandbox rebind failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		}
	case oldSessionID == "":
		if _, ok := g.sandboxes.Get(chatID); !ok {
			if _, err := g.sandboxes.Ensure(chatID, newSessionID, false); err != nil {
				g.logger.Error("sandbox bind failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
			}
		}
	}
}

// deliver sends the answer as markdown when it fits the markdown length
// contract, recovering from a platform format rejection by resending the raw
// text in plain chunks.
func (g *Gateway) deliver(chatID int64, answer string) error {
	chunks, markdown := reply.Plan(answer, true, g.limits.MarkdownMessageLength, g.limits.PlainMessageLength)
	err := g.sendChunks(chatID, chunks, markdown)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrFormatRejected) {
		return err
	}
	g.logger.Warn("formatted reply rejected, resending plain", slog.Int64("chat_id", chatID))
	safe := answer
	if safe == "" {
		safe = msgBadMarkdown
	}
	chunks, _ = reply.Plan(safe, false, g.limits.MarkdownMessageLength, g.limits.PlainMessageLength)
	return g.sendChunks(chatID, chunks, false)
}

func (g *Gateway) sendChunks(chatID int64, chunks []string, markdown bool) error {
	for _, chunk := range chunks {
		if err := g.messenger.SendText(chatID, chunk, markdown); err != nil {
			return err
		}
	}
	return nil
}

// reportError translates any failure into one user-visible message. Codex
// process failures surface their captured stderr, pruned when oversized.
func (g *Gateway) reportError(chatID int64, err error) {
	message := err.Error()
	if text, ok := codex.IsInvocationError(err); ok {
		message = prune.Text(text, "codex stderr")
	}
	g.logger.Error("handler error", slog.Int64("chat_id", chatID), slog.Any("error", err))
	g.send(chatID, "Error: "+message, false)
}

// startTyping runs the liveness indicator until the returned stop function is
// called; stop joins the goroutine so it never outlives the turn.
func (g *Gateway) startTyping(chatID int64) (stop func()) {
	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := g.messenger.SendTyping(chatID); err != nil {
				g.logger.Debug("typing indicator failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
			}
			select {
			case <-stopCh:
				return
			case <-time.After(g.typingInterval):
			}
		}
	}()
	return func() {
		close(stopCh)
		<-done
	}
}

func (g *Gateway) send(chatID int64, text string, markdown bool) {
	if err := g.messenger.SendText(chatID, text, markdown); err != nil {
		g.logger.Warn("send failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func copyFile(src, dst string) error {
	if src == dst {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create work copy: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy upload: %w", err)
	}
	return nil
}

func flattenForLog(text string) string {
	return strings.ReplaceAll(text, "\n", "\\n")
}
