package gateway

import (
	"context"
	"errors"

	"github.com/codexrelay/codexrelay/internal/codex"
)

// ErrFormatRejected is returned by Messenger.SendText when the platform
// rejects a formatted message. The gateway recovers by resending plain text;
// the condition is never surfaced to the user as an error.
var ErrFormatRejected = errors.New("formatted message rejected")

// User-visible reply strings.
const (
	msgNoAccess        = "No access"
	msgFileTooBig      = "File is too large"
	msgDownloadFailed  = "Failed to download the file"
	msgProcessFailed   = "Failed to process the file"
	msgBadMarkdown     = "Error: invalid Markdown"
	msgEmptyResponse   = "Empty response from codex"
	defaultTriageText  = "Review the logs and identify the main errors and anomalies."
	helpText           = "I am a PM bot. Mentioning me triggers an analysis of the last 30 messages.\nCommands: /help, /status"
	sandboxPromptLabel = "$log-archive-triage"
)

// Event is one inbound chat message, normalized by the platform adapter.
type Event struct {
	ChatID       int64
	ChatUsername string
	Private      bool

	SenderID       int64
	SenderHandle   string
	SenderName     string
	SenderIsBot    bool
	SenderResolved bool

	Text            string
	RepliedToHandle string
	Mentioned       bool
	ReplyToBot      bool

	Document *Document
}

// Document describes an attached upload.
type Document struct {
	FileID   string
	UniqueID string
	Name     string
	Size     int64
}

// Messenger is the outbound chat-platform surface. Each send is independent;
// there is no multi-chunk transaction.
type Messenger interface {
	SendText(chatID int64, text string, markdown bool) error
	SendTyping(chatID int64) error
}

// Downloader fetches an attached document to a local path.
type Downloader interface {
	DownloadDocument(ctx context.Context, doc *Document, destPath string) error
}

// Invoker runs the external codex process.
type Invoker interface {
	Invoke(ctx context.Context, prompt, workdir, sessionID string) (codex.Result, error)
}

// Stats is a point-in-time snapshot of gateway state, served by the HTTP
// status endpoint.
type Stats struct {
	Conversations int `json:"conversations"`
	Sessions      int `json:"sessions"`
	Sandboxes     int `json:"sandboxes"`
}
