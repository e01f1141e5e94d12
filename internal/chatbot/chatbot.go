package chatbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"CodaChat/internal/attachment"
	"CodaChat/internal/backend"
	"CodaChat/internal/cache"
	"CodaChat/internal/config"
	"CodaChat/internal/reconcile"
	"CodaChat/internal/session"
	"CodaChat/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

var (
	ErrNoSession      = errors.New("no active session")
	ErrEmptyTurn      = errors.New("message and attachments are both empty")
	ErrStreamInFlight = errors.New("a response is still streaming")
)

// Backend is the part of the agent service the chat client talks to.
type Backend interface {
	Health(ctx context.Context) (interface{}, error)
	ListSessions(ctx context.Context) ([]session.Session, error)
	GetSession(ctx context.Context, id string) (*backend.SessionDetail, error)
	ForkSession(ctx context.Context, id, messageID string) (*session.Session, error)
	DeleteSession(ctx context.Context, id string) error
	SubmitFeedback(ctx context.Context, messageID string, score int, comment string) error
	UploadFile(ctx context.Context, filename string, r io.Reader) (*backend.UploadResult, error)
	OpenStream(ctx context.Context, chat backend.ChatRequest) (io.ReadCloser, error)
}

// Alerter shows a failure to the user.
type Alerter interface {
	Alert(msg string)
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(msg string)

func (f AlertFunc) Alert(msg string) { f(msg) }

// Options carries the optional collaborators of a ChatBot.
type Options struct {
	Archive  *store.Archive
	Alerter  Alerter
	OnUpdate func(session.Turn)
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Meter    metric.Meter
}

// ChatBot owns the active session: its identity, transcript, share link and
// compose state.
type ChatBot struct {
	config     config.Config
	backend    Backend
	transcript *session.Transcript
	identity   *session.Identity
	sessions   *cache.SessionList
	archive    *store.Archive
	alerter    Alerter
	onUpdate   func(session.Turn)
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter

	mu       sync.Mutex
	location string
	pending  []attachment.File

	streaming atomic.Bool
	online    atomic.Bool
	bg        sync.WaitGroup

	archiveOnce sync.Once
	archiveJobs chan func(context.Context)
}

// NewChatBot creates a ChatBot showing a fresh conversation.
func NewChatBot(cfg config.Config, be Backend, opts Options) *ChatBot {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("chatbot")
	}
	meter := opts.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("chatbot")
	}
	alerter := opts.Alerter
	if alerter == nil {
		alerter = AlertFunc(func(msg string) { logger.Warn("alert", "message", msg) })
	}

	cb := &ChatBot{
		config:     cfg,
		backend:    be,
		transcript: session.NewTranscript(greeting(cfg)),
		identity:   &session.Identity{},
		sessions:   cache.NewSessionList(),
		archive:    opts.Archive,
		alerter:    alerter,
		onUpdate:   opts.OnUpdate,
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
		location:   SessionLocation(cfg.UIURL, ""),
	}
	cb.identity.OnChange(cb.syncLocation)
	return cb
}

func greeting(cfg config.Config) session.Turn {
	text := cfg.Greeting
	if text == "" {
		text = config.DefaultGreeting
	}
	return session.Turn{Role: session.RoleAssistant, Content: text}
}

// syncLocation keeps the share link in step with the identity pointer.
func (cb *ChatBot) syncLocation(id string) {
	cb.mu.Lock()
	cb.location = SessionLocation(cb.location, id)
	cb.mu.Unlock()
	cb.logger.Debug("session changed", "session_id", id)
}

// Start resumes the session named by the configuration (an explicit id, or
// the session parameter of a share link) and otherwise starts a new chat.
func (cb *ChatBot) Start(ctx context.Context) error {
	id := cb.config.SessionID
	if id == "" && cb.config.SessionURL != "" {
		id = SessionFromLocation(cb.config.SessionURL)
	}

	cb.RefreshSessionsAsync()
	cb.CheckHealthAsync()

	if id == "" {
		cb.NewChat()
		return nil
	}
	if err := cb.LoadSession(ctx, id); err != nil {
		cb.logger.Warn("failed to load session, starting new chat", "session_id", id, "error", err)
		cb.NewChat()
		return err
	}
	return nil
}

// NewChat forgets the active session and shows the greeting.
func (cb *ChatBot) NewChat() {
	cb.transcript.Replace([]session.Turn{greeting(cb.config)})
	cb.identity.Clear()
	cb.logger.Info("started new chat")
}

// LoadSession replaces the transcript with the persisted history of id.
func (cb *ChatBot) LoadSession(ctx context.Context, id string) error {
	ctx, span := cb.tracer.Start(ctx, "load_session", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	detail, err := cb.backend.GetSession(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		cb.logger.Error("failed to load session", "session_id", id, "error", err)
		return fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if detail.ID == "" {
		detail.ID = id
	}

	turns := TurnsFromHistory(detail.Messages)
	cb.transcript.Replace(turns)
	cb.identity.Set(detail.ID)
	cb.logger.Info("loaded session", "session_id", detail.ID, "turns", len(turns), "messages", len(detail.Messages))

	title := detail.Title
	if title == "" {
		title = cb.sessions.Title(detail.ID)
	}
	cb.archiveAsync(detail.ID, title, turns)
	return nil
}

// Fork branches the active session at the turn with messageID and loads the
// new session. On failure the active session is left untouched.
func (cb *ChatBot) Fork(ctx context.Context, messageID string) error {
	id := cb.identity.Current()
	if id == "" {
		cb.alerter.Alert("Start a chat before forking.")
		return ErrNoSession
	}

	ctx, span := cb.tracer.Start(ctx, "fork_session", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	forked, err := cb.backend.ForkSession(ctx, id, messageID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		cb.logger.Error("failed to fork session", "session_id", id, "message_id", messageID, "error", err)
		cb.alerter.Alert(fmt.Sprintf("Failed to fork session: %v", err))
		return fmt.Errorf("failed to fork session: %w", err)
	}
	cb.logger.Info("forked session", "from", id, "to", forked.ID, "message_id", messageID)

	if err := cb.RefreshSessions(ctx); err != nil {
		cb.logger.Warn("failed to refresh sessions", "error", err)
	}
	return cb.LoadSession(ctx, forked.ID)
}

// DeleteSession deletes id on the backend and drops it from the session list
// and the local archive. Deleting the active session starts a new chat.
func (cb *ChatBot) DeleteSession(ctx context.Context, id string) error {
	ctx, span := cb.tracer.Start(ctx, "delete_session", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	if err := cb.backend.DeleteSession(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		cb.logger.Error("failed to delete session", "session_id", id, "error", err)
		cb.alerter.Alert(fmt.Sprintf("Failed to delete session: %v", err))
		return fmt.Errorf("failed to delete session: %w", err)
	}
	cb.sessions.Remove(id)
	cb.unarchiveAsync(id)
	cb.logger.Info("deleted session", "session_id", id)

	if cb.identity.Current() == id {
		cb.NewChat()
	}
	return nil
}

// SubmitTurn appends the user's turn and an assistant placeholder, then
// streams the response into the placeholder. It blocks until the stream ends.
// A transport failure leaves the error text in the assistant turn and is
// returned.
func (cb *ChatBot) SubmitTurn(ctx context.Context, text string, files []attachment.File) error {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return ErrEmptyTurn
	}
	if !cb.streaming.CompareAndSwap(false, true) {
		return ErrStreamInFlight
	}
	defer cb.streaming.Store(false)

	files = append([]attachment.File(nil), files...)
	cb.transcript.AppendUser(text, files)
	h, err := cb.transcript.BeginAssistant()
	if err != nil {
		return err
	}
	payload := attachment.Encode(text, files)
	cb.clearCompose()

	ctx, span := cb.tracer.Start(ctx, "submit_turn",
		trace.WithAttributes(
			attribute.Int("attachments", len(files)),
			attribute.Int64("transcript.generation", int64(cb.transcript.Generation())),
		))
	defer span.End()

	req := backend.ChatRequest{
		Messages: []backend.WireMessage{{Role: string(session.RoleUser), Content: payload}},
		Model:    cb.config.Model,
		Stream:   true,
	}
	if id := cb.identity.Current(); id != "" {
		req.SessionID = &id
	}

	rec := reconcile.New(cb.transcript, h, cb.identity, reconcile.Options{
		Refresh:  cb.RefreshSessionsAsync,
		OnUpdate: cb.onUpdate,
		Logger:   cb.logger,
		Meter:    cb.meter,
	})

	body, err := cb.backend.OpenStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rec.Fail(err)
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer body.Close()

	if err := rec.Run(ctx, body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("events", rec.Applied()))

	if cb.transcript.Current(h) {
		if id := cb.identity.Current(); id != "" {
			cb.archiveAsync(id, cb.sessions.Title(id), cb.transcript.Turns())
		}
	}
	return nil
}

// Streaming reports whether a response is being streamed.
func (cb *ChatBot) Streaming() bool {
	return cb.streaming.Load()
}

// SubmitFeedback rates the finalized assistant turn at index.
func (cb *ChatBot) SubmitFeedback(ctx context.Context, index, score int, comment string) error {
	if score != 1 && score != -1 {
		return session.ErrInvalidScore
	}
	turn, ok := cb.transcript.Turn(index)
	if !ok {
		return fmt.Errorf("no turn at index %d", index)
	}
	if turn.Role != session.RoleAssistant || turn.ID == "" {
		return fmt.Errorf("turn %d has no message id to rate", index)
	}
	if cb.transcript.Streaming() && index == cb.transcript.Len()-1 {
		return session.ErrTurnNotFinal
	}

	if err := cb.backend.SubmitFeedback(ctx, turn.ID, score, comment); err != nil {
		cb.logger.Error("failed to submit feedback", "message_id", turn.ID, "error", err)
		cb.alerter.Alert(fmt.Sprintf("Failed to submit feedback: %v", err))
		return fmt.Errorf("failed to submit feedback: %w", err)
	}
	if err := cb.transcript.SetFeedback(index, score); err != nil {
		return err
	}
	cb.logger.Info("feedback submitted", "message_id", turn.ID, "score", score)
	return nil
}

// AttachFile uploads the file at path and queues its extracted text for the
// next turn.
func (cb *ChatBot) AttachFile(ctx context.Context, path string) (attachment.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return attachment.File{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	name := filepath.Base(path)
	res, err := cb.backend.UploadFile(ctx, name, f)
	if err != nil {
		cb.logger.Error("failed to upload file", "filename", name, "error", err)
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Detail != "" {
			cb.alerter.Alert("Upload failed: " + apiErr.Detail)
		} else {
			cb.alerter.Alert(fmt.Sprintf("Failed to upload %s", name))
		}
		return attachment.File{}, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	file := attachment.File{Filename: res.Filename, Content: res.Content}
	if file.Filename == "" {
		file.Filename = name
	}
	cb.mu.Lock()
	cb.pending = append(cb.pending, file)
	cb.mu.Unlock()
	cb.logger.Info("file attached", "filename", file.Filename, "size", res.Size)
	return file, nil
}

// Detach removes the pending attachment at index.
func (cb *ChatBot) Detach(index int) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if index < 0 || index >= len(cb.pending) {
		return fmt.Errorf("no pending attachment %d", index+1)
	}
	cb.pending = append(cb.pending[:index], cb.pending[index+1:]...)
	return nil
}

// Pending returns the attachments queued for the next turn.
func (cb *ChatBot) Pending() []attachment.File {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return append([]attachment.File(nil), cb.pending...)
}

func (cb *ChatBot) clearCompose() {
	cb.mu.Lock()
	cb.pending = nil
	cb.mu.Unlock()
}

// RefreshSessions reloads the session list.
func (cb *ChatBot) RefreshSessions(ctx context.Context) error {
	sessions, err := cb.backend.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if cb.sessions.Replace(sessions) {
		cb.logger.Debug("session list changed", "count", len(sessions))
	}
	return nil
}

// RefreshSessionsAsync reloads the session list in the background. Failures
// are logged and leave the cached list untouched.
func (cb *ChatBot) RefreshSessionsAsync() {
	cb.bg.Add(1)
	go func() {
		defer cb.bg.Done()
		if err := cb.RefreshSessions(context.Background()); err != nil {
			cb.logger.Warn("background session refresh failed", "error", err)
		}
	}()
}

// CheckHealth reports whether the backend answered its health probe.
func (cb *ChatBot) CheckHealth(ctx context.Context) bool {
	status, err := cb.backend.Health(ctx)
	online := err == nil && backend.Online(status)
	if err != nil {
		cb.logger.Warn("backend health check failed", "error", err)
	}
	cb.online.Store(online)
	return online
}

// CheckHealthAsync probes the backend in the background.
func (cb *ChatBot) CheckHealthAsync() {
	cb.bg.Add(1)
	go func() {
		defer cb.bg.Done()
		cb.CheckHealth(context.Background())
	}()
}

// Online is the result of the last health probe.
func (cb *ChatBot) Online() bool {
	return cb.online.Load()
}

// enqueueArchive runs job on the archive worker. Jobs run one at a time in
// the order they were queued.
func (cb *ChatBot) enqueueArchive(job func(ctx context.Context)) {
	cb.archiveOnce.Do(func() {
		cb.archiveJobs = make(chan func(context.Context), 16)
		go func() {
			for job := range cb.archiveJobs {
				job(context.Background())
				cb.bg.Done()
			}
		}()
	})
	cb.bg.Add(1)
	cb.archiveJobs <- job
}

func (cb *ChatBot) archiveAsync(id, title string, turns []session.Turn) {
	if cb.archive == nil || id == "" {
		return
	}
	cb.enqueueArchive(func(ctx context.Context) {
		if err := cb.archive.SaveTranscript(ctx, id, title, turns); err != nil {
			cb.logger.Error("failed to archive session", "session_id", id, "error", err)
			return
		}
		cb.logger.Debug("session archived", "session_id", id, "turns", len(turns))
	})
}

func (cb *ChatBot) unarchiveAsync(id string) {
	if cb.archive == nil || id == "" {
		return
	}
	cb.enqueueArchive(func(ctx context.Context) {
		if err := cb.archive.Delete(ctx, id); err != nil {
			cb.logger.Error("failed to remove archived session", "session_id", id, "error", err)
			return
		}
		cb.logger.Debug("archived session removed", "session_id", id)
	})
}

// Wait blocks until background refreshes, probes and archive writes finish.
func (cb *ChatBot) Wait() {
	cb.bg.Wait()
}

// SessionID returns the active session id, or "" for an unsaved chat.
func (cb *ChatBot) SessionID() string {
	return cb.identity.Current()
}

// Turns returns a copy of the transcript.
func (cb *ChatBot) Turns() []session.Turn {
	return cb.transcript.Turns()
}

// Sessions returns the cached session list.
func (cb *ChatBot) Sessions() []session.Session {
	return cb.sessions.All()
}

// Location is the share link mirroring the active session.
func (cb *ChatBot) Location() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.location
}
