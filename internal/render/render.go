package render

import (
	"fmt"
	"strings"

	"CodaChat/internal/session"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))
	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
	thoughtStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("240")).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("240")).
			PaddingLeft(1)
	alertStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
)

// Renderer turns transcript turns into terminal text.
type Renderer struct {
	md *glamour.TermRenderer
}

// New creates a renderer. A glamour failure degrades to plain text.
func New(style string, wrap int) *Renderer {
	if wrap <= 0 {
		wrap = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return &Renderer{}
	}
	return &Renderer{md: r}
}

// Markdown renders md, or returns it unchanged when rendering fails.
func (r *Renderer) Markdown(md string) string {
	if r == nil || r.md == nil || md == "" {
		return md
	}
	out, err := r.md.Render(md)
	if err != nil {
		return md
	}
	return out
}

// Label is the styled speaker prefix of a turn.
func Label(role session.Role) string {
	switch role {
	case session.RoleUser:
		return userStyle.Render("You")
	case session.RoleAssistant:
		return assistantStyle.Render("Coda")
	default:
		return metaStyle.Render(string(role))
	}
}

// Turn renders a complete turn: label, thoughts, content, attachments and
// metadata.
func (r *Renderer) Turn(t session.Turn) string {
	var b strings.Builder
	b.WriteString(Label(t.Role))
	b.WriteString("\n")
	if t.Thoughts != "" {
		b.WriteString(Thoughts(t.Thoughts))
		b.WriteString("\n")
	}
	if t.Role == session.RoleAssistant {
		b.WriteString(r.Markdown(t.Content))
	} else {
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	for _, f := range t.Attachments {
		b.WriteString(metaStyle.Render(fmt.Sprintf("📎 %s (%d bytes)", f.Filename, len(f.Content))))
		b.WriteString("\n")
	}
	if meta := Meta(t); meta != "" {
		b.WriteString(metaStyle.Render(meta))
		b.WriteString("\n")
	}
	return b.String()
}

// Thoughts renders a thought trace.
func Thoughts(trace string) string {
	return thoughtStyle.Render(trace)
}

// Meta summarizes the side-channel metadata of a turn, or "" when there is none.
func Meta(t session.Turn) string {
	var parts []string
	if t.TokenUsage != nil {
		parts = append(parts, fmt.Sprintf("%d tokens", *t.TokenUsage))
	}
	if t.ExecutionTime != nil {
		parts = append(parts, fmt.Sprintf("%.2fs", *t.ExecutionTime))
	}
	if t.DecisionCount != nil {
		parts = append(parts, fmt.Sprintf("%d decisions", *t.DecisionCount))
	}
	if len(t.ToolCalls) > 0 {
		parts = append(parts, fmt.Sprintf("%d tool calls", len(t.ToolCalls)))
	}
	if t.Feedback != nil {
		if t.Feedback.Score > 0 {
			parts = append(parts, "👍")
		} else {
			parts = append(parts, "👎")
		}
	}
	if t.ID != "" {
		parts = append(parts, "id "+t.ID)
	}
	return strings.Join(parts, " · ")
}

// Alert renders a user-facing failure.
func Alert(msg string) string {
	return alertStyle.Render("! " + msg)
}

// Status renders a one-line status bar.
func Status(text string) string {
	return statusStyle.Render(text)
}

// SessionList renders the session list, marking the current one.
func SessionList(sessions []session.Session, current string) string {
	if len(sessions) == 0 {
		return metaStyle.Render("No saved sessions.") + "\n"
	}
	var b strings.Builder
	for i, s := range sessions {
		marker := "  "
		if s.ID == current {
			marker = "* "
		}
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "%s%d. %s %s\n", marker, i+1, title, metaStyle.Render(s.ID+" "+s.CreatedAt))
	}
	return b.String()
}
