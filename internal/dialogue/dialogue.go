// Package dialogue holds the ordered conversation history of one session.
package dialogue

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

const TimePlaceholder = "{{current_time}}"

var memoryBlock = regexp.MustCompile(`(?s)<memory>.*?</memory>`)

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Dialogue keeps at most one system message, always at index 0.
type Dialogue struct {
	mu   sync.RWMutex
	msgs []Message
}

func New(systemPrompt string) *Dialogue {
	d := &Dialogue{}
	if systemPrompt != "" {
		d.UpdateSystem(systemPrompt)
	}
	return d
}

// Put appends m. A system message replaces the existing one instead.
func (d *Dialogue) Put(m Message) {
	if m.Role == RoleSystem {
		d.UpdateSystem(m.Content)
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	d.mu.Lock()
	d.msgs = append(d.msgs, m)
	d.mu.Unlock()
}

func (d *Dialogue) UpdateSystem(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.msgs) > 0 && d.msgs[0].Role == RoleSystem {
		d.msgs[0].Content = content
		return
	}
	sys := Message{ID: uuid.NewString(), Role: RoleSystem, Content: content}
	d.msgs = append([]Message{sys}, d.msgs...)
}

func (d *Dialogue) System() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.msgs) > 0 && d.msgs[0].Role == RoleSystem {
		return d.msgs[0].Content
	}
	return ""
}

// Messages returns a copy of the stored history.
func (d *Dialogue) Messages() []Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Message, len(d.msgs))
	copy(out, d.msgs)
	return out
}

func (d *Dialogue) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.msgs)
}

// Recent returns the last n non-system messages.
func (d *Dialogue) Recent(n int) []Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Message
	for i := len(d.msgs) - 1; i >= 0 && len(out) < n; i-- {
		if d.msgs[i].Role != RoleSystem {
			out = append(out, d.msgs[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// StripToolTurns drops tool results and the assistant turns that requested them.
func (d *Dialogue) StripToolTurns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.msgs[:0]
	removed := 0
	for _, m := range d.msgs {
		if m.Role == RoleTool || (m.Role == RoleAssistant && len(m.ToolCalls) > 0) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	d.msgs = kept
	return removed
}

// Render builds the message list for one LLM call. The time placeholder and
// the <memory> block are substituted in the returned copy only; stored
// history is left as is. An empty memory leaves the block untouched.
func (d *Dialogue) Render(memory string, now time.Time) []Message {
	msgs := d.Messages()
	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case RoleSystem:
			m.Content = strings.ReplaceAll(m.Content, TimePlaceholder, now.Format("15:04"))
			if memory != "" {
				m.Content = memoryBlock.ReplaceAllLiteralString(m.Content, "<memory>\n"+memory+"\n</memory>")
			}
		case RoleTool:
			if m.ToolCallID == "" {
				m.ToolCallID = uuid.NewString()
			}
		}
	}
	return msgs
}

// Transcript formats non-system turns as "role: content" lines.
func Transcript(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == RoleSystem || m.Content == "" {
			continue
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
