// SPDX-License-Identifier: MPL-2.0

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CurrentVersion is the state document schema version.
const CurrentVersion = 1

type (
	// ProcessRecord describes a long-lived child the orchestrator persisted:
	// the router daemon or the engine it owns.
	ProcessRecord struct {
		PID       int       `json:"pid"`
		Port      int       `json:"port"`
		BaseURL   string    `json:"baseUrl"`
		StartedAt time.Time `json:"startedAt"`
	}

	// BinaryDiagnostic records how a sidecar binary was resolved for the
	// current or most recent run.
	BinaryDiagnostic struct {
		Source          string `json:"source"`
		Path            string `json:"path"`
		ExpectedVersion string `json:"expectedVersion,omitempty"`
		ActualVersion   string `json:"actualVersion,omitempty"`
	}

	// PersistedState is the single JSON document under the data dir.
	PersistedState struct {
		Version    int            `json:"version"`
		Daemon     *ProcessRecord `json:"daemon,omitempty"`
		Engine     *ProcessRecord `json:"engine,omitempty"`
		CLIVersion string         `json:"cliVersion,omitempty"`
		// Sidecar is the remote manifest version the binaries came from.
		Sidecar  string                      `json:"sidecar,omitempty"`
		Binaries map[string]BinaryDiagnostic `json:"binaries,omitempty"`
		ActiveID string                      `json:"activeId"`

		Workspaces []Workspace `json:"workspaces"`
	}

	// Store reads and writes the state file. Save uses a temp-file + rename
	// so concurrent readers never observe a torn document. The mutex only
	// serializes writers within this process; cross-process ownership is the
	// single-writer rule enforced by the daemon liveness protocol.
	Store struct {
		path string
		mu   sync.Mutex
	}
)

// NewStore creates a Store for the state file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load reads the state document. A missing or unparseable file yields a
// zero-valued state, never an error: the orchestrator must always be able to
// start from scratch.
func (s *Store) Load() *PersistedState {
	st := &PersistedState{}
	data, err := os.ReadFile(s.path)
	if err == nil {
		// Parse failures fall through to normalization of the zero value.
		_ = json.Unmarshal(data, st)
	}
	st.normalize()
	return st
}

// Save writes the document atomically.
func (s *Store) Save(st *PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.normalize()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Update loads, applies fn, and saves in one writer-side critical section.
func (s *Store) Update(fn func(*PersistedState)) (*PersistedState, error) {
	st := s.Load()
	fn(st)
	if err := s.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}

// normalize fills defaulted fields so callers never see nil slices or a zero
// schema version.
func (st *PersistedState) normalize() {
	if st.Version == 0 {
		st.Version = CurrentVersion
	}
	if st.Workspaces == nil {
		st.Workspaces = []Workspace{}
	}
}

// FindWorkspace returns the workspace with the given id.
func (st *PersistedState) FindWorkspace(id string) (*Workspace, bool) {
	for i := range st.Workspaces {
		if st.Workspaces[i].ID == id {
			return &st.Workspaces[i], true
		}
	}
	return nil, false
}

// ActiveWorkspace returns the workspace named by ActiveID, if any.
func (st *PersistedState) ActiveWorkspace() (*Workspace, bool) {
	if st.ActiveID == "" {
		return nil, false
	}
	return st.FindWorkspace(st.ActiveID)
}

// Upsert inserts the workspace or refreshes the existing entry with the same
// id. Re-adding an existing workspace only bumps LastUsedAt and the name —
// identity fields never change. Returns the stored entry and whether it was
// newly created. Sets ActiveID when no workspace was active yet.
func (st *PersistedState) Upsert(ws Workspace) (Workspace, bool) {
	if existing, ok := st.FindWorkspace(ws.ID); ok {
		existing.LastUsedAt = ws.LastUsedAt
		if ws.Name != "" {
			existing.Name = ws.Name
		}
		return *existing, false
	}
	st.Workspaces = append(st.Workspaces, ws)
	if st.ActiveID == "" {
		st.ActiveID = ws.ID
	}
	return ws, true
}

// Activate sets the global active workspace and bumps its LastUsedAt.
func (st *PersistedState) Activate(id string, now time.Time) bool {
	ws, ok := st.FindWorkspace(id)
	if !ok {
		return false
	}
	st.ActiveID = id
	ws.LastUsedAt = now
	return true
}
