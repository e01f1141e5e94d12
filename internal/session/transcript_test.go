package session

import (
	"errors"
	"testing"

	"CodaChat/internal/attachment"
)

func TestAppendUserCopiesAttachments(t *testing.T) {
	tr := NewTranscript()
	files := []attachment.File{{Filename: "a.txt", Content: "X"}}
	idx := tr.AppendUser("Hello", files)
	files[0].Content = "mutated"

	turn, ok := tr.Turn(idx)
	if !ok {
		t.Fatalf("expected turn at %d", idx)
	}
	if turn.Role != RoleUser || turn.Content != "Hello" {
		t.Fatalf("unexpected turn %#v", turn)
	}
	if turn.Attachments[0].Content != "X" {
		t.Fatalf("expected attachment copy, got %#v", turn.Attachments)
	}
}

func TestBeginAssistantAllowsOneInFlight(t *testing.T) {
	tr := NewTranscript()
	h, err := tr.BeginAssistant()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tr.BeginAssistant(); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}
	if err := tr.Finalize(h); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if tr.Streaming() {
		t.Fatalf("expected no turn in flight after finalize")
	}
	if _, err := tr.BeginAssistant(); err != nil {
		t.Fatalf("expected second begin to succeed, got %v", err)
	}
}

func TestReplaceInvalidatesHandles(t *testing.T) {
	tr := NewTranscript(Turn{Role: RoleAssistant, Content: "greeting"})
	h, err := tr.BeginAssistant()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	tr.Replace([]Turn{{Role: RoleAssistant, Content: "new greeting"}, {Role: RoleUser, Content: "x"}})

	err = tr.Update(h, func(turn *Turn) { turn.Content = "late" })
	if !errors.Is(err, ErrStaleTurn) {
		t.Fatalf("expected ErrStaleTurn, got %v", err)
	}
	turns := tr.Turns()
	if turns[1].Content != "x" {
		t.Fatalf("stale update leaked into new transcript: %#v", turns)
	}
	if tr.Streaming() {
		t.Fatalf("replace should clear the in-flight turn")
	}
}

func TestTurnsReturnsCopies(t *testing.T) {
	tr := NewTranscript()
	h, _ := tr.BeginAssistant()
	_ = tr.Update(h, func(turn *Turn) {
		n := 3
		turn.TokenUsage = &n
	})
	turns := tr.Turns()
	*turns[0].TokenUsage = 99

	again, _ := tr.Turn(0)
	if *again.TokenUsage != 3 {
		t.Fatalf("expected internal state untouched, got %d", *again.TokenUsage)
	}
}

func TestSetFeedback(t *testing.T) {
	tr := NewTranscript()
	h, _ := tr.BeginAssistant()

	if err := tr.SetFeedback(h.Index(), 1); !errors.Is(err, ErrTurnNotFinal) {
		t.Fatalf("expected ErrTurnNotFinal, got %v", err)
	}
	_ = tr.Finalize(h)
	if err := tr.SetFeedback(h.Index(), 2); !errors.Is(err, ErrInvalidScore) {
		t.Fatalf("expected ErrInvalidScore, got %v", err)
	}
	if err := tr.SetFeedback(h.Index(), -1); err != nil {
		t.Fatalf("set feedback: %v", err)
	}
	turn, _ := tr.Turn(h.Index())
	if turn.Feedback == nil || turn.Feedback.Score != -1 {
		t.Fatalf("unexpected feedback %#v", turn.Feedback)
	}
}

func TestFind(t *testing.T) {
	tr := NewTranscript(Turn{Role: RoleUser}, Turn{ID: "m2", Role: RoleAssistant})
	if idx, ok := tr.Find("m2"); !ok || idx != 1 {
		t.Fatalf("expected m2 at 1, got %d %v", idx, ok)
	}
	if _, ok := tr.Find(""); ok {
		t.Fatalf("empty id must never match")
	}
}

func TestIdentityFirstAssignmentWins(t *testing.T) {
	var id Identity
	var seen []string
	id.OnChange(func(s string) { seen = append(seen, s) })

	if !id.AssignIfUnset("s1") {
		t.Fatalf("expected first assignment")
	}
	if id.AssignIfUnset("s2") {
		t.Fatalf("expected second assignment to be ignored")
	}
	if id.Current() != "s1" {
		t.Fatalf("expected s1, got %q", id.Current())
	}
	id.Clear()
	if len(seen) != 2 || seen[0] != "s1" || seen[1] != "" {
		t.Fatalf("unexpected change notifications %v", seen)
	}
}
