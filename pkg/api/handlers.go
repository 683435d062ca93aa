package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cfkarakulak/superdeploy/pkg/events"
	"github.com/cfkarakulak/superdeploy/pkg/orchestrator"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// logWriteDeadline bounds one line written to a log stream client.
const logWriteDeadline = 30 * time.Second

var validate = validator.New()

// DeployRequest is the body of POST /v1/deploys.
type DeployRequest struct {
	Project     string `json:"project" validate:"required"`
	Environment string `json:"environment,omitempty"`
	Version     string `json:"version,omitempty"`
}

// DeployAccepted acknowledges an enqueued deployment.
type DeployAccepted struct {
	RunID   string `json:"run_id"`
	Project string `json:"project"`
	Status  string `json:"status"`
}

// RunResponse is the JSON document served for one run.
type RunResponse struct {
	ID          string         `json:"id"`
	Project     string         `json:"project"`
	Environment string         `json:"environment,omitempty"`
	Version     string         `json:"version,omitempty"`
	Trigger     string         `json:"trigger"`
	Status      string         `json:"status"`
	Steps       []StepResponse `json:"steps"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	FinishedAt  time.Time      `json:"finished_at,omitzero"`
}

// StepResponse is the per-unit outcome inside a run document.
type StepResponse struct {
	UnitID     string    `json:"unit_id"`
	Status     string    `json:"status"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// ProjectStatusResponse lists the currently deployed version per unit.
type ProjectStatusResponse struct {
	Project string       `json:"project"`
	Units   []UnitStatus `json:"units"`
}

// UnitStatus describes the head deployment record of one unit.
type UnitStatus struct {
	UnitID       string    `json:"unit_id"`
	Version      string    `json:"version"`
	ConfigHash   string    `json:"config_hash"`
	RunID        string    `json:"run_id"`
	DeployedAt   time.Time `json:"deployed_at"`
	HistoryDepth int       `json:"history_depth"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleDeploy accepts a deployment request and answers 202 with the
// run ID before any work starts.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	known, err := s.knownProject(req.Project)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list projects: "+err.Error())
		return
	}
	if !known {
		s.writeError(w, http.StatusNotFound, "unknown project "+req.Project)
		return
	}

	run, err := s.enqueueDeploy(req.Project, orchestrator.DeployOptions{
		Environment: req.Environment,
		Version:     req.Version,
		Trigger:     types.TriggerWebhook,
	})
	if err != nil {
		if errors.Is(err, errQueueFull) {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, DeployAccepted{
		RunID:   run.ID,
		Project: run.Project,
		Status:  string(run.Status),
	})
}

// handleGetRun serves the persisted run document.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, types.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, runToResponse(run))
}

// handleProjectStatus serves the head deployment record of every unit
// in a project.
func (s *Server) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	known, err := s.knownProject(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list projects: "+err.Error())
		return
	}
	if !known {
		s.writeError(w, http.StatusNotFound, "unknown project "+name)
		return
	}

	records, err := s.store.ListRecords(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ProjectStatusResponse{Project: name, Units: make([]UnitStatus, 0, len(records))}
	for _, rec := range records {
		resp.Units = append(resp.Units, recordToStatus(rec))
	}
	sort.Slice(resp.Units, func(i, j int) bool { return resp.Units[i].UnitID < resp.Units[j].UnitID })

	s.writeJSON(w, http.StatusOK, resp)
}

// handleRunLogs streams the run's event lines: first a replay of what
// already happened, then live events until the run finishes or the
// client goes away.
func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, types.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	// Subscribe before replaying so nothing published in between gets
	// lost; the seen set drops events delivered through both paths.
	sub := s.broker.Subscribe(run.ID)
	defer s.broker.Unsubscribe(sub)

	seen := make(map[string]bool)
	terminal := false
	for _, ev := range s.journal.events(run.ID) {
		seen[ev.ID] = true
		if writeLine(w, rc, eventLine(ev)) != nil {
			return
		}
		if isTerminalRunEvent(ev.Type) {
			terminal = true
		}
	}

	// A journal that predates this run means the server restarted.
	// Replay from the persisted step summaries instead.
	if len(seen) == 0 && run.Status.Terminal() {
		for _, line := range runSummaryLines(run) {
			if writeLine(w, rc, line) != nil {
				return
			}
		}
		return
	}
	if terminal || run.Status.Terminal() {
		return
	}

	// A nil channel never fires, which covers handlers driven without
	// Start in tests.
	var serverDone <-chan struct{}
	if s.ctx != nil {
		serverDone = s.ctx.Done()
	}

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if seen[ev.ID] {
				continue
			}
			if writeLine(w, rc, eventLine(ev)) != nil {
				return
			}
			if isTerminalRunEvent(ev.Type) {
				return
			}
		case <-r.Context().Done():
			return
		case <-serverDone:
			return
		}
	}
}

// knownProject reports whether the configuration declares the project.
func (s *Server) knownProject(name string) (bool, error) {
	projects, err := s.orch.Projects()
	if err != nil {
		return false, err
	}
	for _, p := range projects {
		if p == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeLine pushes one line to a streaming client and flushes it. The
// deadline keeps a stalled client from pinning the handler.
func writeLine(w io.Writer, rc *http.ResponseController, line string) error {
	_ = rc.SetWriteDeadline(time.Now().Add(logWriteDeadline))
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		return err
	}
	return rc.Flush()
}

// eventLine renders one event as a log line.
func eventLine(ev *events.Event) string {
	var b strings.Builder
	b.WriteString(ev.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString(" ")
	b.WriteString(string(ev.Type))
	if ev.UnitID != "" {
		b.WriteString(" ")
		b.WriteString(ev.UnitID)
	}
	if ev.Message != "" {
		b.WriteString(" ")
		b.WriteString(ev.Message)
	}
	return b.String()
}

// runSummaryLines reconstructs a terminal run's history from its step
// summaries when no journaled events survive.
func runSummaryLines(run *types.Run) []string {
	out := make([]string, 0, len(run.Steps)+1)
	for _, st := range run.Steps {
		line := fmt.Sprintf("%s %s %s", st.FinishedAt.UTC().Format(time.RFC3339), st.UnitID, st.Status)
		if st.Error != "" {
			line += " " + st.Error
		}
		out = append(out, line)
	}
	line := fmt.Sprintf("%s run %s", run.FinishedAt.UTC().Format(time.RFC3339), run.Status)
	if run.Error != "" {
		line += " " + run.Error
	}
	return append(out, line)
}

func isTerminalRunEvent(t events.EventType) bool {
	switch t {
	case events.EventRunSucceeded, events.EventRunFailed, events.EventRunCanceled:
		return true
	}
	return false
}

// Helper functions to convert between internal types and API responses

func runToResponse(run *types.Run) RunResponse {
	steps := make([]StepResponse, len(run.Steps))
	for i, st := range run.Steps {
		steps[i] = StepResponse{
			UnitID:     st.UnitID,
			Status:     string(st.Status),
			Outcome:    string(st.Outcome),
			Error:      st.Error,
			StartedAt:  st.StartedAt,
			FinishedAt: st.FinishedAt,
		}
	}
	return RunResponse{
		ID:          run.ID,
		Project:     run.Project,
		Environment: run.Environment,
		Version:     run.Version,
		Trigger:     string(run.Trigger),
		Status:      string(run.Status),
		Steps:       steps,
		Error:       run.Error,
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
}

func recordToStatus(rec *types.DeploymentRecord) UnitStatus {
	return UnitStatus{
		UnitID:       rec.UnitID,
		Version:      rec.Version,
		ConfigHash:   rec.ConfigHash,
		RunID:        rec.RunID,
		DeployedAt:   rec.DeployedAt,
		HistoryDepth: rec.Depth(),
	}
}
