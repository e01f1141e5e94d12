package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"CodaChat/internal/render"
	"CodaChat/internal/session"
)

// Terminal is the line-based front-end of a ChatBot. It prints streamed
// turns incrementally and doubles as the ChatBot's Alerter.
type Terminal struct {
	out    io.Writer
	render *render.Renderer

	mu       sync.Mutex
	printed  string
	thoughts string
}

// NewTerminal creates a terminal writing to out.
func NewTerminal(out io.Writer, r *render.Renderer) *Terminal {
	return &Terminal{out: out, render: r}
}

// Alert prints a user-facing failure.
func (t *Terminal) Alert(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, render.Alert(msg))
}

// OnUpdate prints what changed in the streaming turn since the last call.
func (t *Terminal) OnUpdate(turn session.Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if turn.Thoughts != t.thoughts && t.printed == "" {
		lines := strings.Split(turn.Thoughts, "\n")
		fmt.Fprintln(t.out, render.Thoughts(lines[len(lines)-1]))
	}
	t.thoughts = turn.Thoughts

	switch {
	case turn.Content == t.printed:
	case strings.HasPrefix(turn.Content, t.printed):
		fmt.Fprint(t.out, turn.Content[len(t.printed):])
	default:
		fmt.Fprint(t.out, "\n"+turn.Content)
	}
	t.printed = turn.Content
}

func (t *Terminal) beginTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printed = ""
	t.thoughts = ""
	fmt.Fprintln(t.out, render.Label(session.RoleAssistant))
}

func (t *Terminal) endTurn(turn session.Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out)
	if meta := render.Meta(turn); meta != "" {
		fmt.Fprintln(t.out, meta)
	}
	fmt.Fprintln(t.out)
}

func (t *Terminal) printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *Terminal) printTranscript(turns []session.Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, turn := range turns {
		fmt.Fprintf(t.out, "[%d] %s\n", i+1, t.render.Turn(turn))
	}
}

func (t *Terminal) status(cb *ChatBot) {
	id := cb.SessionID()
	if id == "" {
		id = "new"
	}
	backend := "offline"
	if cb.Online() {
		backend = "online"
	}
	t.printf("%s\n", render.Status(fmt.Sprintf("Coda Agent · session %s · backend %s", id, backend)))
}

// Run reads lines from in until EOF or /quit. Lines starting with "/" are
// commands; everything else is sent as a user turn with the pending
// attachments.
func (t *Terminal) Run(ctx context.Context, cb *ChatBot, in io.Reader) error {
	t.status(cb)
	t.printTranscript(cb.Turns())
	t.printf("Type /help for commands, /quit to exit\n\n")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		t.printf("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" && len(cb.Pending()) == 0 {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := t.handleCommand(ctx, cb, input)
			if err != nil {
				t.printf("Error: %v\n", err)
				cb.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		t.beginTurn()
		err := cb.SubmitTurn(ctx, input, cb.Pending())
		turns := cb.Turns()
		t.endTurn(turns[len(turns)-1])
		if err != nil {
			cb.logger.Error("failed to send message", "error", err)
		}
	}

	cb.Wait()
	t.printf("Goodbye!\n")
	return scanner.Err()
}

// handleCommand handles special commands
func (t *Terminal) handleCommand(ctx context.Context, cb *ChatBot, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		cb.NewChat()
		t.printTranscript(cb.Turns())
		return false, nil

	case "/sessions":
		if err := cb.RefreshSessions(ctx); err != nil {
			return false, err
		}
		t.printf("%s", render.SessionList(cb.Sessions(), cb.SessionID()))
		return false, nil

	case "/load":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /load <number|session-id>")
		}
		if err := cb.LoadSession(ctx, t.resolveSession(cb, parts[1])); err != nil {
			return false, err
		}
		t.status(cb)
		t.printTranscript(cb.Turns())
		return false, nil

	case "/fork":
		messageID := ""
		if len(parts) > 1 {
			id, err := t.resolveMessage(cb, parts[1])
			if err != nil {
				return false, err
			}
			messageID = id
		}
		if err := cb.Fork(ctx, messageID); err != nil {
			if errors.Is(err, ErrNoSession) {
				return false, nil
			}
			return false, err
		}
		t.status(cb)
		t.printTranscript(cb.Turns())
		return false, nil

	case "/delete":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /delete <number|session-id>")
		}
		id := t.resolveSession(cb, parts[1])
		if err := cb.DeleteSession(ctx, id); err != nil {
			return false, nil
		}
		t.printf("Deleted session %s\n", id)
		return false, nil

	case "/attach":
		if len(parts) < 2 {
			for i, f := range cb.Pending() {
				t.printf("%d. %s (%d bytes)\n", i+1, f.Filename, len(f.Content))
			}
			return false, nil
		}
		f, err := cb.AttachFile(ctx, strings.TrimSpace(strings.TrimPrefix(cmd, parts[0])))
		if err != nil {
			return false, nil
		}
		t.printf("Attached %s (%d bytes)\n", f.Filename, len(f.Content))
		return false, nil

	case "/detach":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /detach <number>")
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return false, fmt.Errorf("invalid attachment number %q", parts[1])
		}
		return false, cb.Detach(n - 1)

	case "/share":
		if link := cb.ShareLink(); link != "" {
			t.printf("Share this link: %s\n", link)
		}
		return false, nil

	case "/export":
		dir := cb.config.ExportDir
		if len(parts) > 1 {
			dir = parts[1]
		}
		path, err := cb.ExportFile(dir)
		if err != nil {
			return false, err
		}
		if path != "" {
			t.printf("Exported to %s\n", path)
		}
		return false, nil

	case "/feedback":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /feedback <turn-number> <up|down> [comment]")
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return false, fmt.Errorf("invalid turn number %q", parts[1])
		}
		score := 0
		switch parts[2] {
		case "up", "+1", "1":
			score = 1
		case "down", "-1":
			score = -1
		}
		if err := cb.SubmitFeedback(ctx, n-1, score, strings.Join(parts[3:], " ")); err != nil {
			return false, err
		}
		t.printf("Thanks for the feedback\n")
		return false, nil

	case "/health":
		cb.CheckHealth(ctx)
		t.status(cb)
		return false, nil

	case "/transcript":
		t.printTranscript(cb.Turns())
		return false, nil

	case "/help":
		t.printf("Available commands:\n")
		t.printf("  /quit, /exit                   - Exit the chat\n")
		t.printf("  /new                           - Start a new chat\n")
		t.printf("  /sessions                      - List saved sessions\n")
		t.printf("  /load <n|id>                   - Load a saved session\n")
		t.printf("  /fork [turn|message-id]        - Branch the session at a message\n")
		t.printf("  /delete <n|id>                 - Delete a saved session\n")
		t.printf("  /attach [path]                 - Upload a file for the next message, or list pending files\n")
		t.printf("  /detach <n>                    - Remove a pending file\n")
		t.printf("  /share                         - Show the link to this session\n")
		t.printf("  /export [dir]                  - Export this conversation as JSON\n")
		t.printf("  /feedback <turn> <up|down> [c] - Rate an answer\n")
		t.printf("  /health                        - Check the backend\n")
		t.printf("  /transcript                    - Show the conversation again\n")
		t.printf("  /help                          - Show this help message\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s, try /help", parts[0])
	}
}

// resolveSession maps a 1-based position in the session list to its id;
// anything else is taken as an id.
func (t *Terminal) resolveSession(cb *ChatBot, arg string) string {
	if n, err := strconv.Atoi(arg); err == nil {
		sessions := cb.Sessions()
		if n >= 1 && n <= len(sessions) {
			return sessions[n-1].ID
		}
	}
	return arg
}

// resolveMessage maps a 1-based transcript position to its message id;
// anything else must be the id of a message in the transcript.
func (t *Terminal) resolveMessage(cb *ChatBot, arg string) (string, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		if _, ok := cb.transcript.Find(arg); !ok {
			return "", fmt.Errorf("no message %s in this session", arg)
		}
		return arg, nil
	}
	turns := cb.Turns()
	if n < 1 || n > len(turns) || turns[n-1].ID == "" {
		return "", fmt.Errorf("turn %d has no message id", n)
	}
	return turns[n-1].ID, nil
}
