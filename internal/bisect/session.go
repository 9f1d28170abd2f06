// internal/bisect/session.go
package bisect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"muse/internal/model"
)

const (
	stateFile     = "BISECT_STATE.json"
	schemaVersion = 1
)

// Session is the persisted bisect state. Its presence on disk is the
// mutual-exclusion guard: one session per repository, and it survives
// across process invocations until an explicit reset.
type Session struct {
	SchemaVersion   int                      `json:"schema_version"`
	SessionID       string                   `json:"session_id"`
	Good            string                   `json:"good"`
	Bad             string                   `json:"bad"`
	Current         string                   `json:"current"`
	Tested          map[string]model.Verdict `json:"tested"`
	PreBisectRef    string                   `json:"pre_bisect_ref"`
	PreBisectCommit string                   `json:"pre_bisect_commit"`
}

func sessionPath(museDir string) string {
	return filepath.Join(museDir, stateFile)
}

// loadSession reads the session file. A missing or unreadable file
// means "no session": a corrupt state file degrades to starting over
// rather than wedging every bisect command.
func loadSession(museDir string) *Session {
	data, err := os.ReadFile(sessionPath(museDir))
	if err != nil {
		return nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if s.Tested == nil {
		s.Tested = make(map[string]model.Verdict)
	}
	return &s
}

func saveSession(museDir string, s *Session) error {
	s.SchemaVersion = schemaVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding bisect session: %w", err)
	}
	if err := os.WriteFile(sessionPath(museDir), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing bisect session: %w", err)
	}
	return nil
}

func removeSession(museDir string) error {
	err := os.Remove(sessionPath(museDir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing bisect session: %w", err)
	}
	return nil
}

func sessionExists(museDir string) bool {
	_, err := os.Stat(sessionPath(museDir))
	return err == nil
}
