package stream

import (
	"encoding/json"
	"fmt"
	"math"
)

// Event is one decoded `data:` frame. Every field is optional and several may
// arrive together in one payload.
type Event struct {
	SessionID     *string
	MessageID     *string
	Thought       *string
	TokenUsage    *int
	ExecutionTime *float64
	DecisionCount *int
	Content       *string
}

// Empty reports whether the payload carried nothing the client acts on.
func (e Event) Empty() bool {
	return e.SessionID == nil && e.MessageID == nil && e.Thought == nil &&
		e.TokenUsage == nil && e.ExecutionTime == nil && e.DecisionCount == nil &&
		e.Content == nil
}

// FieldError reports a known key whose value had the wrong shape. The rest of
// the payload is still usable.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// DecodePayload parses one JSON payload. A payload that is not a JSON object is
// an error; a known key with a mistyped value is dropped and reported through
// the returned field errors.
func DecodePayload(data []byte) (Event, []error, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, nil, fmt.Errorf("failed to decode event payload: %w", err)
	}
	if raw == nil {
		return Event{}, nil, fmt.Errorf("failed to decode event payload: not an object")
	}

	var ev Event
	var fieldErrs []error

	str := func(key string) *string {
		v, ok := raw[key]
		if !ok || isNull(v) {
			return nil
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			fieldErrs = append(fieldErrs, &FieldError{Field: key, Err: err})
			return nil
		}
		// Empty identifiers and thoughts carry nothing.
		if s == "" && key != "content" {
			return nil
		}
		return &s
	}
	num := func(key string) *float64 {
		v, ok := raw[key]
		if !ok || isNull(v) {
			return nil
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			fieldErrs = append(fieldErrs, &FieldError{Field: key, Err: err})
			return nil
		}
		return &f
	}
	integer := func(key string) *int {
		f := num(key)
		if f == nil {
			return nil
		}
		n := int(math.Round(*f))
		return &n
	}

	ev.SessionID = str("session_id")
	ev.MessageID = str("message_id")
	ev.Thought = str("thought")
	ev.TokenUsage = integer("token_usage")
	ev.ExecutionTime = num("execution_time")
	ev.DecisionCount = integer("decision_count")
	ev.Content = str("content")

	return ev, fieldErrs, nil
}

func isNull(v json.RawMessage) bool {
	return string(v) == "null"
}
