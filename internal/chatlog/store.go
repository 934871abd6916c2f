package chatlog

import (
	"strings"
	"sync"

	"github.com/codexrelay/codexrelay/internal/prune"
)

// MaxEntries is the per-conversation retention window.
const MaxEntries = 30

const renderHeader = "Chat log (last 30 messages, in send order):\n"

// Entry is one captured chat message.
type Entry struct {
	Speaker   string
	Text      string
	RepliedTo string
}

// Store keeps a bounded ring of recent messages per conversation.
// Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	logs map[int64][]Entry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{logs: make(map[int64][]Entry)}
}

// Append records an entry for the conversation, evicting the oldest entries
// beyond MaxEntries. Oversized message text is pruned so one pathological
// message cannot dominate the rendered transcript.
func (s *Store) Append(chatID int64, entry Entry) {
	entry.Text = prune.Text(entry.Text, "message")
	s.mu.Lock()
	defer s.mu.Unlock()
	items := append(s.logs[chatID], entry)
	if len(items) > MaxEntries {
		items = items[len(items)-MaxEntries:]
	}
	s.logs[chatID] = items
}

// Entries returns a copy of the retained entries in insertion order.
func (s *Store) Entries(chatID int64) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.logs[chatID]
	out := make([]Entry, len(items))
	copy(out, items)
	return out
}

// Len reports how many conversations hold at least one entry.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

// Render produces the transcript used as the group-chat prompt: a fixed header
// followed by one bullet per entry.
func (s *Store) Render(chatID int64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	b.WriteString(renderHeader)
	for i, entry := range s.logs[chatID] {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(FormatLine(entry))
	}
	return b.String()
}

// FormatLine renders a single entry as "speaker: text", including the
// reply-to attribution when present.
func FormatLine(entry Entry) string {
	if entry.RepliedTo != "" {
		return entry.Speaker + " (reply to " + entry.RepliedTo + "): " + entry.Text
	}
	return entry.Speaker + ": " + entry.Text
}
