package codex

import (
	"bufio"
	"encoding/json"
	"strings"
)

// Assistant-message markers recognized at the top level and inside
// item.completed envelopes. The codex CLI has emitted all of these across
// versions of its --json stream.
var assistantMessageTypes = map[string]struct{}{
	"message":           {},
	"assistant_message": {},
	"final_message":     {},
	"agent_message":     {},
}

// StreamResult is what one pass over a codex NDJSON stream yields.
type StreamResult struct {
	Answer    string
	SessionID string
}

// ParseStream scans newline-delimited JSON emitted by codex. Lines that are
// not valid JSON objects are skipped. The session id is taken from the first
// line that declares one; the answer from the last line that carries assistant
// text, since the stream may emit intermediate content before the final
// message.
func ParseStream(raw string) StreamResult {
	var result StreamResult

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var payload any
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			continue
		}
		obj, ok := payload.(map[string]any)
		if !ok {
			continue
		}
		if result.SessionID == "" {
			result.SessionID = extractSessionID(obj)
		}
		if candidate := extractAnswer(obj); candidate != "" {
			result.Answer = candidate
		}
	}
	return result
}

// extractSessionID resolves the session identifier from one event object:
// session_id, then session.id (or a "session"-typed event's own id), then
// thread_id with a thread.started fallback to id.
func extractSessionID(obj map[string]any) string {
	if id := stringField(obj, "session_id"); id != "" {
		return id
	}
	if session, ok := obj["session"].(map[string]any); ok {
		if id := stringField(session, "id"); id != "" {
			return id
		}
	} else if stringField(obj, "type") == "session" {
		if id := stringField(obj, "id"); id != "" {
			return id
		}
	}
	if stringField(obj, "type") == "thread.started" {
		if id := stringField(obj, "thread_id"); id != "" {
			return id
		}
		return stringField(obj, "id")
	}
	return stringField(obj, "thread_id")
}

// extractAnswer resolves assistant text from one event object, returning ""
// when the event carries none.
func extractAnswer(obj map[string]any) string {
	eventType := stringField(obj, "type")

	if _, ok := assistantMessageTypes[eventType]; ok {
		if roleAllowsAssistant(obj) {
			return extractText(obj)
		}
		return ""
	}

	if eventType == "item.completed" {
		item, ok := obj["item"].(map[string]any)
		if !ok {
			return ""
		}
		if _, ok := assistantMessageTypes[stringField(item, "type")]; ok {
			return extractText(item)
		}
		return ""
	}

	if message, ok := obj["message"]; ok {
		if nested, isObj := message.(map[string]any); isObj && !roleAllowsAssistant(nested) {
			return ""
		}
		return extractText(message)
	}

	if response, ok := obj["response"].(map[string]any); ok {
		return extractText(response["output_text"])
	}
	return ""
}

func roleAllowsAssistant(obj map[string]any) bool {
	role, ok := obj["role"]
	if !ok || role == nil {
		return true
	}
	s, isString := role.(string)
	return isString && s == "assistant"
}

// extractText recursively resolves text from a decoded JSON value: strings
// pass through, sequences concatenate element extractions in order, objects
// resolve the first present field in a fixed preference order. Everything
// else yields empty.
func extractText(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, item := range v {
			b.WriteString(extractText(item))
		}
		return b.String()
	case map[string]any:
		for _, key := range []string{"text", "content", "value", "output_text"} {
			if nested, ok := v[key]; ok {
				return extractText(nested)
			}
		}
		return ""
	default:
		return ""
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
