package gateway

import (
	"strconv"
	"strings"
	"sync"
)

// Authorizer decides which senders may drive the gateway and which
// conversations it listens to. An allowed sender authorizes its conversation
// as a side effect, for the process lifetime.
type Authorizer struct {
	allowedUsers         map[int64]struct{}
	allowedUsernames     map[string]struct{}
	allowedChatUsernames map[string]struct{}

	mu              sync.RWMutex
	authorizedChats map[int64]struct{}
}

// NewAuthorizer resolves the configured allow-list entries. Numeric entries
// authorize both the user and the chat of the same id; other entries are
// treated as usernames or t.me links. Entries that resolve to neither are
// returned for the caller to report.
func NewAuthorizer(entries []string) (*Authorizer, []string) {
	a := &Authorizer{
		allowedUsers:         make(map[int64]struct{}),
		allowedUsernames:     make(map[string]struct{}),
		allowedChatUsernames: make(map[string]struct{}),
		authorizedChats:      make(map[int64]struct{}),
	}
	var unresolved []string
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if id, err := strconv.ParseInt(entry, 10, 64); err == nil {
			a.allowedUsers[id] = struct{}{}
			a.authorizedChats[id] = struct{}{}
			continue
		}
		if username := ExtractUsername(entry); username != "" {
			normalized := strings.ToLower(username)
			a.allowedUsernames[normalized] = struct{}{}
			a.allowedChatUsernames[normalized] = struct{}{}
			continue
		}
		unresolved = append(unresolved, entry)
	}
	return a, unresolved
}

// Empty reports whether the allow-list resolved to nothing.
func (a *Authorizer) Empty() bool {
	return len(a.allowedUsers) == 0 && len(a.allowedUsernames) == 0
}

// AllowedUser reports whether the event's sender is on the allow-list.
func (a *Authorizer) AllowedUser(ev Event) bool {
	if !ev.SenderResolved {
		return false
	}
	if _, ok := a.allowedUsers[ev.SenderID]; ok {
		return true
	}
	if ev.SenderHandle == "" {
		return false
	}
	_, ok := a.allowedUsernames[strings.ToLower(ev.SenderHandle)]
	return ok
}

// AuthorizeChat marks the conversation as authorized.
func (a *Authorizer) AuthorizeChat(chatID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authorizedChats[chatID] = struct{}{}
}

// ChatAuthorized reports whether the conversation may be captured and
// triggered, either by id or by an allow-listed chat username.
func (a *Authorizer) ChatAuthorized(chatID int64, chatUsername string) bool {
	a.mu.RLock()
	_, ok := a.authorizedChats[chatID]
	a.mu.RUnlock()
	if ok {
		return true
	}
	if chatUsername == "" {
		return false
	}
	_, ok = a.allowedChatUsernames[strings.ToLower(chatUsername)]
	return ok
}

// ExtractUsername normalizes an allow-list entry to a bare username: @ and
// http(s)://t.me/ prefixes are stripped. Invite links (+hash) and anything
// still containing a slash resolve to empty.
func ExtractUsername(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "@")
	for _, prefix := range []string{"https://", "http://"} {
		trimmed = strings.TrimPrefix(trimmed, prefix)
	}
	trimmed = strings.TrimPrefix(trimmed, "t.me/")
	if trimmed == "" || strings.HasPrefix(trimmed, "+") || strings.Contains(trimmed, "/") {
		return ""
	}
	return trimmed
}
