package chatbot

import (
	"CodaChat/internal/attachment"
	"CodaChat/internal/backend"
	"CodaChat/internal/reconcile"
	"CodaChat/internal/session"
)

// TurnsFromHistory converts a persisted history into transcript turns.
// Tool messages are dropped; user messages have their attachments decoded
// out of the content.
func TurnsFromHistory(messages []backend.StoredMessage) []session.Turn {
	turns := make([]session.Turn, 0, len(messages))
	for _, m := range messages {
		role := session.Role(m.Role)
		if role == session.RoleTool || !role.Valid() {
			continue
		}

		var content string
		if m.Content != nil {
			content = *m.Content
		}
		turn := session.Turn{ID: m.ID, Role: role, Content: content}

		if role == session.RoleUser {
			decoded := attachment.Decode(content)
			turn.Content = decoded.CleanText
			turn.Attachments = decoded.Attachments
			turns = append(turns, turn)
			continue
		}

		turn.TokenUsage = m.TokenCount
		turn.ExecutionTime = m.ExecutionTime
		turn.DecisionCount = m.DecisionCount
		turn.ToolCalls = m.ToolCalls
		if thoughts, ok := m.Feedback["thoughts"].(string); ok {
			turn.Thoughts = reconcile.TrimThoughts(thoughts)
		}
		if score, ok := m.Feedback["score"].(float64); ok && (score == 1 || score == -1) {
			turn.Feedback = &session.Feedback{Score: int(score)}
		}
		turns = append(turns, turn.Clone())
	}
	return turns
}
