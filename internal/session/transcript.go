package session

import (
	"errors"
	"fmt"
	"sync"

	"CodaChat/internal/attachment"
)

var (
	ErrTurnInFlight = errors.New("an assistant turn is already streaming")
	ErrStaleTurn    = errors.New("turn belongs to a replaced transcript")
	ErrTurnNotFinal = errors.New("turn is still streaming")
	ErrInvalidScore = errors.New("feedback score must be 1 or -1")
)

// Handle addresses the in-flight assistant turn. It stays valid until the
// transcript is replaced wholesale.
type Handle struct {
	generation uint64
	index      int
}

// Index returns the position of the addressed turn.
func (h Handle) Index() int {
	return h.index
}

// Transcript is the ordered, append-only log of turns of one conversation.
// Replacing it wholesale bumps its generation so that handles taken before the
// replacement stop applying.
type Transcript struct {
	mu         sync.RWMutex
	turns      []Turn
	generation uint64
	inflight   int
}

// NewTranscript creates a transcript holding turns.
func NewTranscript(turns ...Turn) *Transcript {
	t := &Transcript{inflight: -1}
	t.turns = cloneTurns(turns)
	return t
}

// Replace swaps the whole transcript, e.g. on new chat or session load.
func (t *Transcript) Replace(turns []Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = cloneTurns(turns)
	t.generation++
	t.inflight = -1
}

// Generation identifies the current contents; it changes on every Replace.
func (t *Transcript) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

// AppendUser adds a user turn with a private copy of files.
func (t *Transcript) AppendUser(text string, files []attachment.File) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn := Turn{Role: RoleUser, Content: text}
	if len(files) > 0 {
		turn.Attachments = append([]attachment.File(nil), files...)
	}
	t.turns = append(t.turns, turn)
	return len(t.turns) - 1
}

// BeginAssistant appends an empty assistant placeholder and marks it in flight.
func (t *Transcript) BeginAssistant() (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight >= 0 {
		return Handle{}, ErrTurnInFlight
	}
	t.turns = append(t.turns, Turn{Role: RoleAssistant})
	t.inflight = len(t.turns) - 1
	return Handle{generation: t.generation, index: t.inflight}, nil
}

// Update applies fn to the turn addressed by h while holding the transcript
// lock; fn must not call back into t. It returns ErrStaleTurn once the
// transcript has been replaced since h was issued.
func (t *Transcript) Update(h Handle, fn func(*Turn)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.current(h) {
		return ErrStaleTurn
	}
	fn(&t.turns[h.index])
	return nil
}

// Finalize freezes the addressed turn.
func (t *Transcript) Finalize(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.current(h) {
		return ErrStaleTurn
	}
	if t.inflight == h.index {
		t.inflight = -1
	}
	return nil
}

// Current reports whether h still addresses a turn of this transcript.
func (t *Transcript) Current(h Handle) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current(h)
}

func (t *Transcript) current(h Handle) bool {
	return h.generation == t.generation && h.index >= 0 && h.index < len(t.turns)
}

// Streaming reports whether an assistant turn is in flight.
func (t *Transcript) Streaming() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inflight >= 0
}

// Turn returns a copy of the turn at index.
func (t *Transcript) Turn(index int) (Turn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.turns) {
		return Turn{}, false
	}
	return t.turns[index].Clone(), true
}

// Turns returns a copy of all turns in insertion order.
func (t *Transcript) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneTurns(t.turns)
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Find returns the index of the turn with the given backend id.
func (t *Transcript) Find(id string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, turn := range t.turns {
		if id != "" && turn.ID == id {
			return i, true
		}
	}
	return -1, false
}

// SetFeedback records a rating on a finalized turn.
func (t *Transcript) SetFeedback(index int, score int) error {
	if score != 1 && score != -1 {
		return ErrInvalidScore
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.turns) {
		return fmt.Errorf("no turn at index %d", index)
	}
	if index == t.inflight {
		return ErrTurnNotFinal
	}
	t.turns[index].Feedback = &Feedback{Score: score}
	return nil
}

func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, turn := range turns {
		out[i] = turn.Clone()
	}
	return out
}
