// Package transcript reads conversation logs for replay through the engine.
//
// Input is JSONL. Each line is either a flat record
//
//	{"userId":"bob","userType":"pet","message":"I miss him","timestamp":"2026-03-01T09:00:00Z"}
//
// or a chat-export entry whose message carries a role and content
//
//	{"type":"user","message":{"role":"user","content":"I miss him"}}
//
// where content is a string or an array of {"type":"text","text":...}
// blocks. Only user-authored text is kept.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const maxLineBytes = 1024 * 1024

// Turn is one user message to replay.
type Turn struct {
	Line      int
	UserID    string
	UserType  string
	Text      string
	Timestamp time.Time // zero when the line had none
}

// Result holds the parsed turns and the line numbers that were skipped as
// malformed.
type Result struct {
	Turns     []Turn
	Malformed []int
}

type line struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	UserID    string          `json:"userId"`
	UserType  string          `json:"userType"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
	Content   json.RawMessage `json:"content"`
}

// message is the nested form of the message field.
type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ParseFile reads a JSONL conversation file.
func ParseFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads JSONL from r. Blank lines and non-user entries are ignored;
// lines that are not valid JSON or carry an unparseable timestamp are
// recorded in Result.Malformed.
func Parse(r io.Reader) (*Result, error) {
	res := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	n := 0
	for scanner.Scan() {
		n++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		turn, ok, err := parseLine([]byte(raw))
		if err != nil {
			res.Malformed = append(res.Malformed, n)
			continue
		}
		if ok {
			turn.Line = n
			res.Turns = append(res.Turns, turn)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return res, nil
}

func parseLine(raw []byte) (Turn, bool, error) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return Turn{}, false, err
	}

	role := l.Role
	if role == "" {
		role = l.Type
	}
	text := ""
	if len(l.Message) > 0 {
		if s, ok := asString(l.Message); ok {
			text = s
		} else {
			var m message
			if err := json.Unmarshal(l.Message, &m); err != nil {
				return Turn{}, false, err
			}
			if m.Role != "" {
				role = m.Role
			}
			text = extractText(m.Content)
		}
	} else if len(l.Content) > 0 {
		text = extractText(l.Content)
	}

	if role != "" && role != "user" {
		return Turn{}, false, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, false, nil
	}

	t := Turn{UserID: l.UserID, UserType: l.UserType, Text: text}
	if l.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, l.Timestamp)
		if err != nil {
			return Turn{}, false, fmt.Errorf("timestamp: %w", err)
		}
		t.Timestamp = ts
	}
	return t, true, nil
}

func asString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// extractText handles the polymorphic content field.
// It may be a plain string or an array of content items.
func extractText(raw json.RawMessage) string {
	if s, ok := asString(raw); ok {
		return s
	}

	var items []contentItem
	if err := json.Unmarshal(raw, &items); err == nil {
		var texts []string
		for _, item := range items {
			if item.Type == "text" && item.Text != "" {
				texts = append(texts, item.Text)
			}
		}
		return strings.Join(texts, "\n")
	}

	return ""
}

// Users returns the distinct user ids in order of first appearance, with
// defaultID standing in for turns that name none.
func (r *Result) Users(defaultID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range r.Turns {
		id := t.UserID
		if id == "" {
			id = defaultID
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
