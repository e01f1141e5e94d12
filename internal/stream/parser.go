package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
)

const (
	dataPrefix = "data: "
	// DoneMarker ends a response stream normally.
	DoneMarker = "[DONE]"
)

// Parser turns arbitrary byte chunks into events. Lines split across chunk
// boundaries are buffered until their line feed arrives.
type Parser struct {
	buf       []byte
	done      bool
	malformed int
	logger    *slog.Logger
}

// NewParser creates a parser. A nil logger discards diagnostics.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Parser{logger: logger}
}

// Done reports whether the [DONE] marker has been seen.
func (p *Parser) Done() bool {
	return p.done
}

// Malformed returns the number of payloads skipped because they were not JSON.
func (p *Parser) Malformed() int {
	return p.malformed
}

// Feed consumes a chunk and returns the events completed by it. Once the
// [DONE] marker is seen every further byte is ignored.
func (p *Parser) Feed(chunk []byte) []Event {
	if p.done {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var events []Event
	for !p.done {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := string(p.buf[:i])
		p.buf = p.buf[i+1:]
		if ev, ok := p.parseLine(line); ok {
			events = append(events, ev)
		}
	}
	if p.done {
		p.buf = nil
	}
	return events
}

// Flush parses a trailing line left without a line feed at end of input.
func (p *Parser) Flush() []Event {
	if p.done || len(p.buf) == 0 {
		p.buf = nil
		return nil
	}
	line := string(p.buf)
	p.buf = nil
	if ev, ok := p.parseLine(line); ok {
		return []Event{ev}
	}
	return nil
}

func (p *Parser) parseLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := line[len(dataPrefix):]
	if payload == DoneMarker {
		p.done = true
		return Event{}, false
	}

	ev, fieldErrs, err := DecodePayload([]byte(payload))
	if err != nil {
		p.malformed++
		p.logger.Warn("skipping malformed stream event", "error", err, "payload", truncate(payload, 200))
		return Event{}, false
	}
	for _, ferr := range fieldErrs {
		p.logger.Warn("dropping invalid stream event field", "error", ferr)
	}
	return ev, true
}

// Read pulls chunks from r until EOF, the [DONE] marker, a read error or
// cancellation of ctx, handing each event to fn in arrival order. Returning a
// non-nil error from fn stops reading and is returned as is.
func Read(ctx context.Context, r io.Reader, p *Parser, fn func(Event) error) error {
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			for _, ev := range p.Feed(buf[:n]) {
				if err := fn(ev); err != nil {
					return err
				}
			}
			if p.Done() {
				return nil
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				for _, ev := range p.Flush() {
					if err := fn(ev); err != nil {
						return err
					}
				}
				return nil
			}
			return readErr
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
