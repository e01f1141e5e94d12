package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"CodaChat/internal/config"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.Default()
	cfg.APIURL = srv.URL
	cfg.ProviderKeys = map[string]string{config.ProviderAnthropic: "sk-ant"}
	return NewClient(cfg, "test", nil, nil, nil), srv
}

func TestListSessions(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/sessions/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("expected request id header")
		}
		io.WriteString(w, `[{"id":"s1","title":"First","created_at":"2024-05-01T10:00:00"}]`)
	}))

	sessions, err := c.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" || sessions[0].Title != "First" {
		t.Fatalf("unexpected sessions %#v", sessions)
	}
}

func TestGetSessionDecodesMessages(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions/s1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"id":"s1","title":"T","created_at":"x","messages":[
			{"id":"m1","role":"user","content":"hi"},
			{"id":"m2","role":"assistant","content":null,"token_count":12,"execution_time":1.5,"decision_count":2,"feedback":{"thoughts":"a\nb","score":1}}
		]}`)
	}))

	detail, err := c.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.ID != "s1" || len(detail.Messages) != 2 {
		t.Fatalf("unexpected detail %#v", detail)
	}
	m2 := detail.Messages[1]
	if m2.Content != nil || *m2.TokenCount != 12 || *m2.ExecutionTime != 1.5 || m2.Feedback["thoughts"] != "a\nb" {
		t.Fatalf("unexpected message %#v", m2)
	}
}

func TestForkSendsMessageID(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/sessions/s1/fork" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body ForkRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.MessageID != "m2" {
			t.Errorf("unexpected body %#v err=%v", body, err)
		}
		io.WriteString(w, `{"id":"s2","title":"Fork of T","created_at":"x"}`)
	}))

	sess, err := c.ForkSession(context.Background(), "s1", "m2")
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if sess.ID != "s2" {
		t.Fatalf("unexpected session %#v", sess)
	}
}

func TestAPIErrorCarriesDetail(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"Session not found"}`)
	}))

	err := c.DeleteSession(context.Background(), "gone")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Detail != "Session not found" {
		t.Fatalf("unexpected api error %#v", apiErr)
	}
}

func TestUploadFileMultipart(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		json.NewEncoder(w).Encode(UploadResult{
			Filename:    header.Filename,
			ContentType: "text/plain",
			Content:     string(data),
			Size:        len(data),
		})
	}))

	res, err := c.UploadFile(context.Background(), "notes.txt", strings.NewReader("remember"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Filename != "notes.txt" || res.Content != "remember" || res.Size != 8 {
		t.Fatalf("unexpected result %#v", res)
	}
}

func TestUploadFailureDetail(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"detail":"Unsupported file type: .bin"}`)
	}))

	_, err := c.UploadFile(context.Background(), "x.bin", strings.NewReader("\x00"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "Unsupported file type: .bin" {
		t.Fatalf("expected detail, got %v", err)
	}
}

func TestOpenStreamSendsRequestAndHeaders(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Anthropic-API-Key") != "sk-ant" {
			t.Errorf("expected provider header, got %v", r.Header)
		}
		raw, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(raw), `"session_id":null`) {
			t.Errorf("expected null session id, got %s", raw)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"content\":\"hi\"}\n\ndata: [DONE]\n\n")
	}))

	body, err := c.OpenStream(context.Background(), ChatRequest{
		Messages: []WireMessage{{Role: "user", Content: "hello"}},
		Model:    "claude-3",
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if !strings.Contains(string(data), "[DONE]") {
		t.Fatalf("unexpected stream %q", data)
	}
}

func TestOpenStreamRejectsNon2xx(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail":"boom"}`)
	}))
	if _, err := c.OpenStream(context.Background(), ChatRequest{Stream: true}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestHealth(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"healthy","version":"0.1.0"}`)
	}))
	doc, err := c.Health(context.Background())
	if err != nil || !Online(doc) {
		t.Fatalf("unexpected health %v err=%v", doc, err)
	}
	if m, ok := doc.(map[string]interface{}); !ok || m["status"] != "healthy" {
		t.Fatalf("unexpected health document %#v", doc)
	}
}

func TestOnline(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{body: `{"status":"healthy"}`, want: true},
		{body: `{}`, want: true},
		{body: `[]`, want: true},
		{body: `true`, want: true},
		{body: `"ok"`, want: true},
		{body: `1`, want: true},
		{body: `false`, want: false},
		{body: `null`, want: false},
		{body: `0`, want: false},
		{body: `""`, want: false},
		{body: ``, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			doc, err := c.Health(context.Background())
			if got := err == nil && Online(doc); got != tt.want {
				t.Fatalf("body %q: online=%v, want %v (doc=%#v err=%v)", tt.body, got, tt.want, doc, err)
			}
		})
	}
}

func TestAnalytics(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/analytics/usage":
			io.WriteString(w, `{"total_sessions":2,"total_messages":9,"total_tokens":120,"avg_execution_time":1.25}`)
		case "/api/v1/analytics/tools":
			io.WriteString(w, `{"usage":[{"tool_name":"search","count":3}]}`)
		case "/api/v1/analytics/decisions":
			io.WriteString(w, `{"usage":[{"category":"tool","count":4}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()
	usage, err := c.UsageAnalytics(ctx)
	if err != nil || usage.TotalTokens != 120 {
		t.Fatalf("usage=%#v err=%v", usage, err)
	}
	tools, err := c.ToolAnalytics(ctx)
	if err != nil || len(tools.Usage) != 1 || tools.Usage[0].ToolName != "search" {
		t.Fatalf("tools=%#v err=%v", tools, err)
	}
	decisions, err := c.DecisionAnalytics(ctx)
	if err != nil || decisions.Usage[0].Count != 4 {
		t.Fatalf("decisions=%#v err=%v", decisions, err)
	}
}

func TestSubmitFeedback(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/messages/m2/feedback" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["score"] != float64(-1) || body["comment"] != "wrong" {
			t.Errorf("unexpected body %#v", body)
		}
		io.WriteString(w, `{"status":"ok"}`)
	}))

	if err := c.SubmitFeedback(context.Background(), "m2", -1, "wrong"); err != nil {
		t.Fatalf("feedback: %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	var method, path string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := c.DeleteSession(context.Background(), "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if method != http.MethodDelete || path != "/api/v1/sessions/s1" {
		t.Fatalf("unexpected request %s %s", method, path)
	}
}
