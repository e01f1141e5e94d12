package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"
)

// wsStream exposes the text frames of a WebSocket connection as one byte
// stream, so the same SSE parser consumes both transports. Frames need not be
// aligned with event lines.
type wsStream struct {
	conn   *websocket.Conn
	pr     *io.PipeReader
	mu     sync.Mutex
	closed bool
}

// openWebSocketStream dials the stream endpoint, sends the chat request as the
// first message and pipes every text frame that follows.
func (c *Client) openWebSocketStream(ctx context.Context, chat ChatRequest) (io.ReadCloser, error) {
	ctx, span := c.tracer.Start(ctx, "chat_stream_ws")
	defer span.End()

	header := http.Header{}
	header.Set("User-Agent", fmt.Sprintf("Coda-CLI/%s", c.version))
	c.setProviderHeaders(header)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.streamURL, header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return nil, newAPIError(resp.StatusCode, resp.Status, body)
		}
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	if err := conn.WriteJSON(chat); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	pr, pw := io.Pipe()
	s := &wsStream{conn: conn, pr: pr}
	go s.pump(pw)

	c.logger.Info("opened WebSocket stream", "url", c.streamURL)
	return s, nil
}

func (s *wsStream) pump(pw *io.PipeWriter) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				pw.Close()
				return
			}
			if s.isClosed() {
				pw.CloseWithError(io.ErrClosedPipe)
				return
			}
			pw.CloseWithError(fmt.Errorf("failed to read frame: %w", err))
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if _, err := pw.Write(data); err != nil {
			// Reader side closed.
			return
		}
	}
}

func (s *wsStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *wsStream) Read(p []byte) (int, error) {
	n, err := s.pr.Read(p)
	if errors.Is(err, io.ErrClosedPipe) {
		return n, io.EOF
	}
	return n, err
}

// Close sends a close frame and tears the connection down.
func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.pr.Close()
	return s.conn.Close()
}
