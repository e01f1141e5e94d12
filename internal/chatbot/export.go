package chatbot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"CodaChat/internal/config"
	"CodaChat/internal/session"
)

// ExportMeta describes an exported conversation.
type ExportMeta struct {
	SessionID   *string `json:"session_id"`
	Title       string  `json:"title,omitempty"`
	ExportedAt  string  `json:"exported_at"`
	Application string  `json:"application"`
}

// ExportData is the shape of an exported conversation file.
type ExportData struct {
	Meta     ExportMeta     `json:"meta"`
	Messages []session.Turn `json:"messages"`
}

// Snapshot captures the current conversation for export.
func (cb *ChatBot) Snapshot() ExportData {
	data := ExportData{
		Meta: ExportMeta{
			ExportedAt:  time.Now().UTC().Format(time.RFC3339Nano),
			Application: config.ApplicationName,
		},
		Messages: cb.transcript.Turns(),
	}
	if id := cb.identity.Current(); id != "" {
		data.Meta.SessionID = &id
		data.Meta.Title = cb.sessions.Title(id)
	}
	return data
}

// Export writes the conversation as indented JSON.
func (cb *ChatBot) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cb.Snapshot()); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

// ExportFileName is the file name an export of sessionID is written to.
func ExportFileName(sessionID string) string {
	if sessionID == "" {
		sessionID = "new"
	}
	return fmt.Sprintf("coda-chat-%s.json", sessionID)
}

// ExportFile writes the conversation into dir and returns the file path. An
// empty transcript writes nothing and returns "".
func (cb *ChatBot) ExportFile(dir string) (string, error) {
	if cb.transcript.Len() == 0 {
		return "", nil
	}
	path := filepath.Join(dir, ExportFileName(cb.identity.Current()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if err := cb.Export(f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	cb.logger.Info("conversation exported", "path", path)
	return path, nil
}
