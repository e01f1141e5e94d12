package backend

import (
	"encoding/json"
	"fmt"

	"CodaChat/internal/session"
)

// WireMessage is a message as the chat endpoint receives it.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents the request body for the streaming chat endpoint.
// A nil SessionID asks the backend to start a new session.
type ChatRequest struct {
	SessionID *string       `json:"session_id"`
	Messages  []WireMessage `json:"messages"`
	Model     string        `json:"model"`
	Stream    bool          `json:"stream"`
}

// StoredMessage is one persisted message of a session.
type StoredMessage struct {
	ID            string                   `json:"id"`
	Role          string                   `json:"role"`
	Content       *string                  `json:"content"`
	CreatedAt     string                   `json:"created_at,omitempty"`
	TokenCount    *int                     `json:"token_count"`
	ExecutionTime *float64                 `json:"execution_time"`
	DecisionCount *int                     `json:"decision_count"`
	ToolCalls     []map[string]interface{} `json:"tool_calls"`
	Status        *string                  `json:"status,omitempty"`
	Feedback      map[string]interface{}   `json:"feedback"`
}

// SessionDetail is a session together with its persisted history.
type SessionDetail struct {
	session.Session
	Messages []StoredMessage `json:"messages"`
}

// ForkRequest represents the body of a fork call.
type ForkRequest struct {
	MessageID string `json:"message_id,omitempty"`
}

// FeedbackRequest represents the body of a feedback call.
type FeedbackRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// UploadResult is the server's extraction of an uploaded file.
type UploadResult struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Size        int    `json:"size"`
}

// UsageAnalytics represents the response from /api/v1/analytics/usage
type UsageAnalytics struct {
	TotalSessions    int     `json:"total_sessions"`
	TotalMessages    int     `json:"total_messages"`
	TotalTokens      int     `json:"total_tokens"`
	AvgExecutionTime float64 `json:"avg_execution_time"`
}

// ToolUsage is one row of the tool analytics.
type ToolUsage struct {
	ToolName string `json:"tool_name"`
	Count    int    `json:"count"`
}

// ToolAnalytics represents the response from /api/v1/analytics/tools
type ToolAnalytics struct {
	Usage []ToolUsage `json:"usage"`
}

// DecisionUsage is one row of the decision analytics.
type DecisionUsage struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// DecisionAnalytics represents the response from /api/v1/analytics/decisions
type DecisionAnalytics struct {
	Usage []DecisionUsage `json:"usage"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Status     string
	Detail     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("API error: %s - %s", e.Status, e.Body)
}

// newAPIError pulls FastAPI's "detail" out of an error body when present.
func newAPIError(statusCode int, status string, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode, Status: status, Body: string(body)}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil {
			apiErr.Detail = detail
		} else {
			apiErr.Detail = string(payload.Detail)
		}
	}
	return apiErr
}
