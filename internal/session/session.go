package session

import (
	"sync"

	"CodaChat/internal/attachment"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Feedback is the user's rating of a finalized assistant turn.
type Feedback struct {
	Score int `json:"score"`
}

// Turn represents a single entry of the conversation transcript
type Turn struct {
	ID            string                   `json:"id,omitempty"`
	Role          Role                     `json:"role"`
	Content       string                   `json:"content"`
	Attachments   []attachment.File        `json:"attachments,omitempty"`
	Thoughts      string                   `json:"thoughts,omitempty"`
	TokenUsage    *int                     `json:"tokenUsage,omitempty"`
	ExecutionTime *float64                 `json:"executionTime,omitempty"`
	DecisionCount *int                     `json:"decisionCount,omitempty"`
	ToolCalls     []map[string]interface{} `json:"toolCalls,omitempty"`
	Feedback      *Feedback                `json:"feedback,omitempty"`
}

// Clone returns a deep copy so callers can't mutate transcript state.
func (t Turn) Clone() Turn {
	out := t
	if t.Attachments != nil {
		out.Attachments = append([]attachment.File(nil), t.Attachments...)
	}
	if t.TokenUsage != nil {
		v := *t.TokenUsage
		out.TokenUsage = &v
	}
	if t.ExecutionTime != nil {
		v := *t.ExecutionTime
		out.ExecutionTime = &v
	}
	if t.DecisionCount != nil {
		v := *t.DecisionCount
		out.DecisionCount = &v
	}
	if t.ToolCalls != nil {
		out.ToolCalls = append([]map[string]interface{}(nil), t.ToolCalls...)
	}
	if t.Feedback != nil {
		fb := *t.Feedback
		out.Feedback = &fb
	}
	return out
}

// Session is the backend's summary of a saved conversation.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Identity holds the id of the active session. An empty id means the
// conversation has not been saved by the backend yet.
type Identity struct {
	mu        sync.Mutex
	id        string
	listeners []func(string)
}

// OnChange registers fn to be called with the new id after every change.
func (i *Identity) OnChange(fn func(string)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listeners = append(i.listeners, fn)
}

// Current returns the active session id.
func (i *Identity) Current() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.id
}

// Set replaces the active session id.
func (i *Identity) Set(id string) {
	i.mu.Lock()
	changed := i.id != id
	i.id = id
	listeners := append([]func(string){}, i.listeners...)
	i.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(id)
		}
	}
}

// Clear forgets the active session.
func (i *Identity) Clear() {
	i.Set("")
}

// AssignIfUnset sets id only when no session is active. It reports whether
// the assignment happened.
func (i *Identity) AssignIfUnset(id string) bool {
	if id == "" {
		return false
	}
	i.mu.Lock()
	if i.id != "" {
		i.mu.Unlock()
		return false
	}
	i.id = id
	listeners := append([]func(string){}, i.listeners...)
	i.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}
	return true
}
