package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"CodaChat/internal/session"
	"CodaChat/internal/stream"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrorContent replaces the in-flight turn's content when the transport fails.
const ErrorContent = "Sorry, I encountered an error. Please check if the backend is running."

// MaxThoughtLines is how many trailing thought lines a turn keeps.
const MaxThoughtLines = 10

// Options wires the reconciler to its collaborators. All fields are optional.
type Options struct {
	// Refresh is invoked when the session list should be reloaded. It must not
	// block; callers typically start a goroutine.
	Refresh func()
	// OnUpdate receives a copy of the turn after every applied event.
	OnUpdate func(session.Turn)
	Logger   *slog.Logger
	Meter    metric.Meter
}

// Reconciler applies the events of one response stream to the in-flight
// assistant turn of a transcript.
type Reconciler struct {
	transcript *session.Transcript
	handle     session.Handle
	identity   *session.Identity
	opts       Options
	logger     *slog.Logger

	accumulated strings.Builder
	applied     int

	events    metric.Int64Counter
	tokens    metric.Int64Counter
	malformed metric.Int64Counter
}

// New creates a reconciler for the turn addressed by h.
func New(t *session.Transcript, h session.Handle, identity *session.Identity, opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	meter := opts.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("reconcile")
	}

	r := &Reconciler{
		transcript: t,
		handle:     h,
		identity:   identity,
		opts:       opts,
		logger:     logger,
	}

	var err error
	r.events, err = meter.Int64Counter("coda.stream.events",
		metric.WithDescription("Stream events applied to the transcript"))
	if err != nil {
		logger.Warn("failed to create counter", "name", "coda.stream.events", "error", err)
		r.events = noop.Int64Counter{}
	}
	r.tokens, err = meter.Int64Counter("coda.tokens",
		metric.WithDescription("Tokens reported by the backend"))
	if err != nil {
		logger.Warn("failed to create counter", "name", "coda.tokens", "error", err)
		r.tokens = noop.Int64Counter{}
	}
	r.malformed, err = meter.Int64Counter("coda.stream.malformed",
		metric.WithDescription("Stream payloads skipped because they were not valid JSON"))
	if err != nil {
		logger.Warn("failed to create counter", "name", "coda.stream.malformed", "error", err)
		r.malformed = noop.Int64Counter{}
	}
	return r
}

// Applied returns the number of events applied so far.
func (r *Reconciler) Applied() int {
	return r.applied
}

// Apply merges one event into the in-flight turn. It returns
// session.ErrStaleTurn once the transcript has been replaced; nothing is
// applied in that case, not even the session id. Events without any known
// field are ignored.
func (r *Reconciler) Apply(ctx context.Context, ev stream.Event) error {
	if !r.transcript.Current(r.handle) {
		return session.ErrStaleTurn
	}
	if ev.Empty() {
		return nil
	}

	full := r.accumulated.String()
	if ev.Content != nil {
		full += *ev.Content
	}

	var (
		snapshot session.Turn
		assigned bool
	)
	// Runs under the transcript lock: a Replace lands either before it (stale)
	// or after it.
	err := r.transcript.Update(r.handle, func(t *session.Turn) {
		if ev.SessionID != nil && r.identity != nil {
			assigned = r.identity.AssignIfUnset(*ev.SessionID)
		}
		if ev.MessageID != nil {
			t.ID = *ev.MessageID
		}
		if ev.Thought != nil {
			t.Thoughts = AppendThought(t.Thoughts, *ev.Thought)
		}
		if ev.TokenUsage != nil {
			total := *ev.TokenUsage
			if t.TokenUsage != nil {
				total += *t.TokenUsage
			}
			t.TokenUsage = &total
		}
		if ev.ExecutionTime != nil {
			et := *ev.ExecutionTime
			t.ExecutionTime = &et
			if ev.DecisionCount != nil {
				dc := *ev.DecisionCount
				t.DecisionCount = &dc
			}
		}
		if ev.Content != nil {
			t.Content = full
		}
		snapshot = t.Clone()
	})
	if err != nil {
		return err
	}
	if ev.Content != nil {
		r.accumulated.WriteString(*ev.Content)
	}
	if assigned {
		r.logger.Info("session assigned by backend", "session_id", *ev.SessionID)
		r.refresh()
	}

	r.applied++
	r.events.Add(ctx, 1)
	if ev.TokenUsage != nil {
		r.tokens.Add(ctx, int64(*ev.TokenUsage), metric.WithAttributes(attribute.String("role", string(session.RoleAssistant))))
	}
	if r.opts.OnUpdate != nil {
		r.opts.OnUpdate(snapshot)
	}
	return nil
}

// Run reads body to completion and applies every event. On normal termination
// the turn is finalized and a session-list refresh is triggered. A transport
// failure replaces the turn's content with ErrorContent and is returned.
// A replaced transcript ends reconciliation quietly.
func (r *Reconciler) Run(ctx context.Context, body io.Reader) error {
	parser := stream.NewParser(r.logger)
	err := stream.Read(ctx, body, parser, func(ev stream.Event) error {
		return r.Apply(ctx, ev)
	})
	if n := parser.Malformed(); n > 0 {
		r.malformed.Add(ctx, int64(n))
	}

	switch {
	case err == nil:
		if ferr := r.transcript.Finalize(r.handle); ferr != nil {
			return nil
		}
		r.logger.Info("stream complete", "events", r.applied, "malformed", parser.Malformed(), "done_marker", parser.Done())
		r.refresh()
		return nil
	case errors.Is(err, session.ErrStaleTurn):
		r.logger.Info("transcript replaced, abandoning stream", "events", r.applied)
		return nil
	default:
		r.Fail(err)
		return fmt.Errorf("failed to read stream: %w", err)
	}
}

// Fail overwrites the in-flight turn's content with ErrorContent and
// finalizes it. Content streamed so far is discarded.
func (r *Reconciler) Fail(cause error) {
	r.logger.Error("stream failed", "error", cause, "events", r.applied)
	var snapshot session.Turn
	err := r.transcript.Update(r.handle, func(t *session.Turn) {
		t.Content = ErrorContent
		snapshot = t.Clone()
	})
	if err != nil {
		return
	}
	_ = r.transcript.Finalize(r.handle)
	if r.opts.OnUpdate != nil {
		r.opts.OnUpdate(snapshot)
	}
}

func (r *Reconciler) refresh() {
	if r.opts.Refresh != nil {
		r.opts.Refresh()
	}
}

// AppendThought adds line to a newline-joined trace and keeps only the last
// MaxThoughtLines lines.
func AppendThought(current, line string) string {
	var lines []string
	if current != "" {
		lines = strings.Split(current, "\n")
	}
	lines = append(lines, line)
	return TrimThoughts(strings.Join(lines, "\n"))
}

// TrimThoughts keeps the last MaxThoughtLines lines of a trace.
func TrimThoughts(trace string) string {
	if trace == "" {
		return ""
	}
	lines := strings.Split(trace, "\n")
	if len(lines) > MaxThoughtLines {
		lines = lines[len(lines)-MaxThoughtLines:]
	}
	return strings.Join(lines, "\n")
}
