package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"CodaChat/internal/config"
	"CodaChat/internal/session"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// providerHeaders maps providers to the headers the backend reads credentials from.
var providerHeaders = map[string]string{
	config.ProviderOpenAI:    "X-OpenAI-API-Key",
	config.ProviderAnthropic: "X-Anthropic-API-Key",
	config.ProviderGoogle:    "X-Google-API-Key",
}

// Client is the HTTP client for the agent backend
type Client struct {
	baseURL      string
	streamURL    string
	httpClient   *http.Client
	streamClient *http.Client
	providerKeys map[string]string
	version      string
	logger       *slog.Logger
	tracer       trace.Tracer
	duration     metric.Float64Histogram
}

// NewClient creates a new backend client. Nil telemetry falls back to no-op providers.
func NewClient(cfg config.Config, version string, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("backend")
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("backend")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultTimeoutSecs * time.Second
	}

	keys := make(map[string]string, len(cfg.ProviderKeys))
	for k, v := range cfg.ProviderKeys {
		keys[k] = v
	}

	histogram, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		logger.Warn("failed to create histogram", "error", err)
		histogram = metricnoop.Float64Histogram{}
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.APIURL, "/"),
		streamURL: cfg.StreamURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		streamClient: &http.Client{
			Timeout: 0, // No timeout for SSE streams
		},
		providerKeys: keys,
		version:      version,
		logger:       logger,
		tracer:       tracer,
		duration:     histogram,
	}
}

// Health fetches the backend health document. Any failure means offline;
// see Online for how a document is judged.
func (c *Client) Health(ctx context.Context) (interface{}, error) {
	var out interface{}
	if err := c.doJSON(ctx, "health", http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Online reports whether a decoded health document is truthy: anything but
// null, false, 0 or "". Empty objects and arrays count as online.
func Online(doc interface{}) bool {
	switch v := doc.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

// ListSessions returns the saved sessions, most recently updated first.
func (c *Client) ListSessions(ctx context.Context) ([]session.Session, error) {
	var out []session.Session
	if err := c.doJSON(ctx, "list_sessions", http.MethodGet, "/api/v1/sessions/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession returns a session with its persisted messages.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	var out SessionDetail
	if err := c.doJSON(ctx, "get_session", http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForkSession branches session id at messageID into a new session.
func (c *Client) ForkSession(ctx context.Context, id, messageID string) (*session.Session, error) {
	var out session.Session
	body := ForkRequest{MessageID: messageID}
	if err := c.doJSON(ctx, "fork_session", http.MethodPost, "/api/v1/sessions/"+url.PathEscape(id)+"/fork", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("fork response carried no session id")
	}
	return &out, nil
}

// DeleteSession removes a session on the backend.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, "delete_session", http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(id), nil, nil)
}

// SubmitFeedback rates a persisted message.
func (c *Client) SubmitFeedback(ctx context.Context, messageID string, score int, comment string) error {
	body := FeedbackRequest{Score: score, Comment: comment}
	return c.doJSON(ctx, "submit_feedback", http.MethodPost, "/api/v1/messages/"+url.PathEscape(messageID)+"/feedback", body, nil)
}

// UsageAnalytics returns the aggregate usage overview.
func (c *Client) UsageAnalytics(ctx context.Context) (*UsageAnalytics, error) {
	var out UsageAnalytics
	if err := c.doJSON(ctx, "usage_analytics", http.MethodGet, "/api/v1/analytics/usage", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToolAnalytics returns tool call counts.
func (c *Client) ToolAnalytics(ctx context.Context) (*ToolAnalytics, error) {
	var out ToolAnalytics
	if err := c.doJSON(ctx, "tool_analytics", http.MethodGet, "/api/v1/analytics/tools", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecisionAnalytics returns decision counts per category.
func (c *Client) DecisionAnalytics(ctx context.Context) (*DecisionAnalytics, error) {
	var out DecisionAnalytics
	if err := c.doJSON(ctx, "decision_analytics", http.MethodGet, "/api/v1/analytics/decisions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadFile sends a file as multipart/form-data and returns its extracted text.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	ctx, span := c.tracer.Start(ctx, "upload_file")
	defer span.End()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/files/upload", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out UploadResult
	if err := c.send(ctx, span, c.httpClient, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenStream starts a chat turn and returns the raw event stream. A non-2xx
// status is reported before any byte is handed to the caller.
func (c *Client) OpenStream(ctx context.Context, chat ChatRequest) (io.ReadCloser, error) {
	if c.streamURL != "" {
		return c.openWebSocketStream(ctx, chat)
	}

	ctx, span := c.tracer.Start(ctx, "chat_stream")
	defer span.End()

	jsonData, err := json.Marshal(chat)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat/stream", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	c.setProviderHeaders(req.Header)
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("operation", "chat_stream")))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		apiErr := newAPIError(resp.StatusCode, resp.Status, body)
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}
	return resp.Body, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, payload interface{}, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("http.method", method), attribute.String("http.path", path)))
	defer span.End()

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(ctx, span, c.httpClient, req, out)
}

func (c *Client) send(ctx context.Context, span trace.Span, hc *http.Client, req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("http.path", req.URL.Path)))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, resp.Status, body)
		span.SetStatus(codes.Error, apiErr.Error())
		c.logger.Debug("backend returned error", "path", req.URL.Path, "status", resp.StatusCode)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// setHeaders sets common HTTP headers
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", fmt.Sprintf("Coda-CLI/%s", c.version))
	req.Header.Set("X-Request-ID", uuid.NewString())
}

func (c *Client) setProviderHeaders(h http.Header) {
	for provider, key := range c.providerKeys {
		if name, ok := providerHeaders[provider]; ok && key != "" {
			h.Set(name, key)
		}
	}
}
