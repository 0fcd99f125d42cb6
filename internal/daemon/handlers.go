// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/state"
)

type (
	// HealthResponse is the /health document.
	HealthResponse struct {
		OK             bool                                  `json:"ok"`
		Daemon         *state.ProcessRecord                  `json:"daemon,omitempty"`
		Engine         *state.ProcessRecord                  `json:"engine,omitempty"`
		ActiveID       string                                `json:"activeId"`
		WorkspaceCount int                                   `json:"workspaceCount"`
		Diagnostics    map[string]state.BinaryDiagnostic     `json:"diagnostics,omitempty"`
	}

	// WorkspacesResponse is the /workspaces listing.
	WorkspacesResponse struct {
		ActiveID   string            `json:"activeId"`
		Workspaces []state.Workspace `json:"workspaces"`
	}

	// AddWorkspaceRequest is the POST /workspaces body.
	AddWorkspaceRequest struct {
		Path string `json:"path"`
		Name string `json:"name,omitempty"`
	}

	// AddRemoteWorkspaceRequest is the POST /workspaces/remote body.
	AddRemoteWorkspaceRequest struct {
		BaseURL   string `json:"baseUrl"`
		Directory string `json:"directory,omitempty"`
		Name      string `json:"name,omitempty"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := d.store.Load()
	writeJSON(w, http.StatusOK, HealthResponse{
		OK:             true,
		Daemon:         st.Daemon,
		Engine:         st.Engine,
		ActiveID:       st.ActiveID,
		WorkspaceCount: len(st.Workspaces),
		Diagnostics:    st.Binaries,
	})
}

func (d *Daemon) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	st := d.store.Load()
	writeJSON(w, http.StatusOK, WorkspacesResponse{
		ActiveID:   st.ActiveID,
		Workspaces: st.Workspaces,
	})
}

func (d *Daemon) handleAddWorkspace(w http.ResponseWriter, r *http.Request) {
	var req AddWorkspaceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}

	if err := os.MkdirAll(req.Path, 0o755); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("ensuring workspace directory: %w", err))
		return
	}

	ws := state.NewLocalWorkspace(req.Path, req.Name, time.Now().UTC())
	if err := d.seedEngineConfig(ws.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var stored state.Workspace
	if _, err := d.store.Update(func(st *state.PersistedState) {
		stored, _ = st.Upsert(ws)
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (d *Daemon) handleAddRemoteWorkspace(w http.ResponseWriter, r *http.Request) {
	var req AddRemoteWorkspaceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := config.ValidateBaseURL(req.BaseURL); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ws := state.NewRemoteWorkspace(req.BaseURL, req.Directory, req.Name, time.Now().UTC())
	var stored state.Workspace
	if _, err := d.store.Update(func(st *state.PersistedState) {
		stored, _ = st.Upsert(ws)
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (d *Daemon) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	st := d.store.Load()
	ws, ok := st.FindWorkspace(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("workspace %s not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (d *Daemon) handleActivateWorkspace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var activated bool
	st, err := d.store.Update(func(st *state.PersistedState) {
		activated = st.Activate(id, time.Now().UTC())
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !activated {
		writeError(w, http.StatusNotFound, fmt.Errorf("workspace %s not found", id))
		return
	}
	ws, _ := st.FindWorkspace(id)
	writeJSON(w, http.StatusOK, ws)
}

// handleWorkspacePath returns the engine's view of a workspace's path. For
// local workspaces the engine is brought up first; for remote workspaces
// the query forwards to the remote app server.
func (d *Daemon) handleWorkspacePath(w http.ResponseWriter, r *http.Request) {
	st := d.store.Load()
	ws, ok := st.FindWorkspace(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("workspace %s not found", r.PathValue("id")))
		return
	}

	switch ws.Type {
	case state.WorkspaceRemote:
		d.forwardPath(r.Context(), w, ws.BaseURL, ws.Directory)
	default:
		engine, err := d.ensureEngine(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		d.forwardPath(r.Context(), w, engine.BaseURL, ws.Path)
	}
}

// forwardPath relays GET <base>/path?directory=<dir> and mirrors the answer.
func (d *Daemon) forwardPath(ctx context.Context, w http.ResponseWriter, base, directory string) {
	target := base + "/path?directory=" + url.QueryEscape(directory)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (d *Daemon) handleDisposeInstance(w http.ResponseWriter, r *http.Request) {
	st := d.store.Load()
	ws, ok := st.FindWorkspace(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("workspace %s not found", r.PathValue("id")))
		return
	}
	if err := d.disposeInstance(r.Context(), ws); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleShutdown acknowledges, then stops the daemon out of band so the 200
// reaches the client before the listener closes.
func (d *Daemon) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	go d.Stop(context.Background())
}

func readJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// postJSON posts a JSON body and requires a 2xx answer.
func postJSON(ctx context.Context, target string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", target, resp.StatusCode)
	}
	return nil
}
