package sandbox

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

const (
	uploadsDirname = "uploads"
	workDirname    = "work"
	notesDirname   = "notes"

	fallbackFilename = "upload"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Sandbox is a per-conversation isolated working area. Root lives under the
// quarantine root; Link is the symbolic alias inside the codex workdir through
// which the agent addresses the sandbox.
type Sandbox struct {
	ID      string
	Root    string
	Uploads string
	Work    string
	Notes   string
	Link    string
}

// Manager allocates and tracks one sandbox per conversation.
// Safe for concurrent use.
type Manager struct {
	logger      *slog.Logger
	root        string
	workdir     string
	linkDirname string

	mu        sync.RWMutex
	sandboxes map[int64]Sandbox
}

// NewManager creates a Manager rooted at root, exposing sandboxes via symlinks
// under workdir/linkDirname/<chat>/<id>.
func NewManager(log *slog.Logger, root, workdir, linkDirname string) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		logger:      log.With(slog.String("component", "sandbox")),
		root:        root,
		workdir:     workdir,
		linkDirname: linkDirname,
		sandboxes:   make(map[int64]Sandbox),
	}
}

// Get returns the sandbox currently bound to the conversation, if any.
func (m *Manager) Get(chatID int64) (Sandbox, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.sandboxes[chatID]
	return sb, ok
}

// Len reports how many conversations have a bound sandbox.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sandboxes)
}

// Ensure returns the sandbox bound to the conversation, creating one when none
// exists or when forceNew is set. sandboxID seeds the directory name (usually
// the codex session id); when empty a random id is generated.
func (m *Manager) Ensure(chatID int64, sandboxID string, forceNew bool) (Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sb, ok := m.sandboxes[chatID]; ok && !forceNew {
		return sb, nil
	}

	if sandboxID == "" {
		sandboxID = uuid.NewString()
	}
	sandboxID = SanitizeFilename(sandboxID)

	chatKey := strconv.FormatInt(chatID, 10)
	root := filepath.Join(m.root, chatKey, sandboxID)
	sb := Sandbox{
		ID:      sandboxID,
		Root:    root,
		Uploads: filepath.Join(root, uploadsDirname),
		Work:    filepath.Join(root, workDirname),
		Notes:   filepath.Join(root, notesDirname),
	}
	for _, dir := range []string{sb.Uploads, sb.Work, sb.Notes} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Sandbox{}, fmt.Errorf("create sandbox dir: %w", err)
		}
	}

	link, err := m.exposeLink(chatKey, sandboxID, root)
	if err != nil {
		return Sandbox{}, err
	}
	sb.Link = link

	m.sandboxes[chatID] = sb
	m.logger.Info("sandbox bound",
		slog.Int64("chat_id", chatID),
		slog.String("sandbox_id", sandboxID),
		slog.Bool("force_new", forceNew),
	)
	return sb, nil
}

// exposeLink places a symlink to the sandbox root inside the codex workdir,
// replacing whatever occupied the alias path before.
func (m *Manager) exposeLink(chatKey, sandboxID, target string) (string, error) {
	linkRoot := filepath.Join(m.workdir, m.linkDirname, chatKey)
	if err := os.MkdirAll(linkRoot, 0o755); err != nil {
		return "", fmt.Errorf("create link dir: %w", err)
	}
	link := filepath.Join(linkRoot, sandboxID)
	if info, err := os.Lstat(link); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(link); err != nil {
				return "", fmt.Errorf("replace sandbox link: %w", err)
			}
		} else {
			// Stale directory or file at the alias path; partial removal
			// failures are tolerated, the symlink attempt reports the rest.
			_ = os.RemoveAll(link)
		}
	}
	if err := os.Symlink(target, link); err != nil {
		return "", fmt.Errorf("create sandbox link: %w", err)
	}
	return link, nil
}

// ListFiles walks the sandbox uploads and work trees and returns up to max
// paths relative to the sandbox root, lexicographic within each tree.
func ListFiles(sb Sandbox, max int) []string {
	files := make([]string, 0, 16)
	for _, root := range []string{sb.Uploads, sb.Work} {
		if len(files) >= max {
			break
		}
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(sb.Root, path)
			if relErr != nil {
				rel = d.Name()
			}
			files = append(files, rel)
			if len(files) >= max {
				return fs.SkipAll
			}
			return nil
		})
	}
	return files
}

// SanitizeFilename reduces an externally supplied name to a filesystem-safe
// token: basename only, allow-listed characters, non-empty fallback.
func SanitizeFilename(name string) string {
	if name == "" {
		return fallbackFilename
	}
	base := filepath.Base(name)
	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	if base == "" || base == "." || base == ".." {
		return fallbackFilename
	}
	return base
}
