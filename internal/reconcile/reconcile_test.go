package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"CodaChat/internal/session"
	"CodaChat/internal/stream"
)

func strp(s string) *string     { return &s }
func intp(n int) *int           { return &n }
func floatp(f float64) *float64 { return &f }

type fixture struct {
	transcript *session.Transcript
	identity   *session.Identity
	handle     session.Handle
	refreshes  int
	updates    int
	rec        *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		transcript: session.NewTranscript(session.Turn{Role: session.RoleUser, Content: "hi"}),
		identity:   &session.Identity{},
	}
	h, err := f.transcript.BeginAssistant()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	f.handle = h
	f.rec = New(f.transcript, h, f.identity, Options{
		Refresh:  func() { f.refreshes++ },
		OnUpdate: func(session.Turn) { f.updates++ },
	})
	return f
}

func (f *fixture) turn(t *testing.T) session.Turn {
	t.Helper()
	turn, ok := f.transcript.Turn(f.handle.Index())
	if !ok {
		t.Fatalf("missing in-flight turn")
	}
	return turn
}

func TestTokenUsageAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := f.rec.Apply(ctx, stream.Event{TokenUsage: intp(5)}); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if got := f.turn(t).TokenUsage; got == nil || *got != 10 {
		t.Fatalf("expected tokenUsage 10, got %v", got)
	}
}

func TestExecutionTimeOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_ = f.rec.Apply(ctx, stream.Event{ExecutionTime: floatp(1.2)})
	}
	if got := f.turn(t).ExecutionTime; got == nil || *got != 1.2 {
		t.Fatalf("expected executionTime 1.2, got %v", got)
	}
}

func TestDecisionCountRequiresExecutionTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.rec.Apply(ctx, stream.Event{DecisionCount: intp(4)})
	if f.turn(t).DecisionCount != nil {
		t.Fatalf("decision_count without execution_time must be ignored")
	}

	_ = f.rec.Apply(ctx, stream.Event{ExecutionTime: floatp(2), DecisionCount: intp(3)})
	turn := f.turn(t)
	if turn.DecisionCount == nil || *turn.DecisionCount != 3 || *turn.ExecutionTime != 2 {
		t.Fatalf("unexpected metadata %#v", turn)
	}
}

func TestThoughtsKeepLastTen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 1; i <= 12; i++ {
		_ = f.rec.Apply(ctx, stream.Event{Thought: strp(fmt.Sprintf("step %d", i))})
	}
	var want []string
	for i := 3; i <= 12; i++ {
		want = append(want, fmt.Sprintf("step %d", i))
	}
	if got := f.turn(t).Thoughts; got != strings.Join(want, "\n") {
		t.Fatalf("unexpected thoughts:\n%s", got)
	}
}

func TestContentIsFullAccumulation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, part := range []string{"Hel", "lo", " there"} {
		_ = f.rec.Apply(ctx, stream.Event{Content: strp(part)})
	}
	if got := f.turn(t).Content; got != "Hello there" {
		t.Fatalf("unexpected content %q", got)
	}
	if f.updates != 3 {
		t.Fatalf("expected 3 updates, got %d", f.updates)
	}
}

func TestSessionIDFirstWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.rec.Apply(ctx, stream.Event{SessionID: strp("first")})
	_ = f.rec.Apply(ctx, stream.Event{SessionID: strp("second")})
	if got := f.identity.Current(); got != "first" {
		t.Fatalf("expected first session id, got %q", got)
	}
	if f.refreshes != 1 {
		t.Fatalf("expected exactly one refresh from session assignment, got %d", f.refreshes)
	}
}

func TestSessionIDIgnoredWhenAlreadySet(t *testing.T) {
	f := newFixture(t)
	f.identity.Set("existing")
	_ = f.rec.Apply(context.Background(), stream.Event{SessionID: strp("other")})
	if f.identity.Current() != "existing" || f.refreshes != 0 {
		t.Fatalf("identity=%q refreshes=%d", f.identity.Current(), f.refreshes)
	}
}

func TestFieldsInOnePayloadAreIndependent(t *testing.T) {
	f := newFixture(t)
	err := f.rec.Apply(context.Background(), stream.Event{
		MessageID:  strp("m1"),
		Thought:    strp("thinking"),
		TokenUsage: intp(7),
		Content:    strp("ok"),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	turn := f.turn(t)
	if turn.ID != "m1" || turn.Thoughts != "thinking" || *turn.TokenUsage != 7 || turn.Content != "ok" {
		t.Fatalf("unexpected turn %#v", turn)
	}
}

func TestRunStopsAtDoneMarker(t *testing.T) {
	f := newFixture(t)
	body := "data: {\"content\":\"hi\"}\ndata: [DONE]\ndata: {\"content\":\" more\"}\n"
	if err := f.rec.Run(context.Background(), strings.NewReader(body)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.turn(t).Content; got != "hi" {
		t.Fatalf("expected content hi, got %q", got)
	}
	if f.transcript.Streaming() {
		t.Fatalf("expected turn to be finalized")
	}
	if f.refreshes != 1 {
		t.Fatalf("expected refresh after termination, got %d", f.refreshes)
	}
}

func TestRunToleratesMalformedPayloads(t *testing.T) {
	f := newFixture(t)
	body := "data: {\"content\":\"a\"}\ndata: oops\ndata: {\"content\":\"b\"}\n"
	if err := f.rec.Run(context.Background(), iotest.HalfReader(strings.NewReader(body))); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.turn(t).Content; got != "ab" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestRunTransportFailureReplacesContent(t *testing.T) {
	f := newFixture(t)
	r := io.MultiReader(strings.NewReader("data: {\"content\":\"partial\"}\n"), iotest.ErrReader(errors.New("reset")))
	if err := f.rec.Run(context.Background(), r); err == nil {
		t.Fatalf("expected error")
	}
	if got := f.turn(t).Content; got != ErrorContent {
		t.Fatalf("expected error content, got %q", got)
	}
	if f.refreshes != 0 {
		t.Fatalf("failed streams must not refresh, got %d", f.refreshes)
	}
	if f.transcript.Streaming() {
		t.Fatalf("failed turn should be finalized")
	}
}

func TestReplacedTranscriptStopsReconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.rec.Apply(ctx, stream.Event{Content: strp("before")})

	f.transcript.Replace([]session.Turn{{Role: session.RoleAssistant, Content: "greeting"}})

	err := f.rec.Apply(ctx, stream.Event{SessionID: strp("s9"), Content: strp("after")})
	if !errors.Is(err, session.ErrStaleTurn) {
		t.Fatalf("expected ErrStaleTurn, got %v", err)
	}
	if f.identity.Current() != "" {
		t.Fatalf("stale stream must not assign identity")
	}
	turns := f.transcript.Turns()
	if len(turns) != 1 || turns[0].Content != "greeting" {
		t.Fatalf("replaced transcript was mutated: %#v", turns)
	}
}

func TestRunAfterReplaceReturnsQuietly(t *testing.T) {
	f := newFixture(t)
	f.transcript.Replace(nil)
	if err := f.rec.Run(context.Background(), strings.NewReader("data: {\"content\":\"x\"}\n")); err != nil {
		t.Fatalf("expected quiet stop, got %v", err)
	}
	if f.refreshes != 0 {
		t.Fatalf("expected no refresh, got %d", f.refreshes)
	}
}

func TestTrimThoughtsMultiLineEntries(t *testing.T) {
	trace := ""
	trace = AppendThought(trace, "a\nb\nc\nd\ne\nf")
	trace = AppendThought(trace, "g\nh\ni\nj\nk")
	if got := strings.Count(trace, "\n") + 1; got != MaxThoughtLines {
		t.Fatalf("expected %d lines, got %d", MaxThoughtLines, got)
	}
	if !strings.HasPrefix(trace, "b\n") || !strings.HasSuffix(trace, "\nk") {
		t.Fatalf("unexpected trace %q", trace)
	}
}

func TestEmptyEventIsIgnored(t *testing.T) {
	f := newFixture(t)
	if err := f.rec.Apply(context.Background(), stream.Event{}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if f.updates != 0 || f.rec.Applied() != 0 {
		t.Fatalf("empty event applied: updates=%d applied=%d", f.updates, f.rec.Applied())
	}
}

func TestSessionIDNeverOutlivesReplace(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 2000; i++ {
		tr := session.NewTranscript(session.Turn{Role: session.RoleUser, Content: "hi"})
		id := &session.Identity{}
		h, err := tr.BeginAssistant()
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		rec := New(tr, h, id, Options{})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			rec.Apply(ctx, stream.Event{SessionID: strp("old")})
		}()
		go func() {
			defer wg.Done()
			tr.Replace(nil)
			id.Clear()
		}()
		wg.Wait()

		if got := id.Current(); got != "" {
			t.Fatalf("iteration %d: replaced transcript kept session %q", i, got)
		}
	}
}
