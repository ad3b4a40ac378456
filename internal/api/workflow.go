package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/promptflow/internal/output"
	"github.com/soochol/promptflow/internal/promptflow"
)

const maxBodyBytes = 1 << 20

func decodeWorkflow(w http.ResponseWriter, r *http.Request) (*promptflow.Workflow, bool) {
	var wf promptflow.Workflow
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&wf); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return &wf, true
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := decodeWorkflow(w, r)
	if !ok {
		return
	}
	created, err := s.workflowSvc.Create(r.Context(), wf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.workflowSvc.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*promptflow.Workflow{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflowSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) updateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := decodeWorkflow(w, r)
	if !ok {
		return
	}
	updated, err := s.workflowSvc.Update(r.Context(), chi.URLParam(r, "id"), wf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.workflowSvc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type runRequest struct {
	Variables map[string]any `json:"variables"`
}

// runWorkflow executes synchronously and returns the execution record.
// Failed runs still answer 200; the status is in the body. Clients asking
// for text/event-stream get the run's progress as server-sent events.
func (s *Server) runWorkflow(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if s.events != nil && wantsStream(r) {
		s.streamRun(w, r, chi.URLParam(r, "id"), req.Variables)
		return
	}
	exec, err := s.workflowSvc.Run(r.Context(), chi.URLParam(r, "id"), req.Variables)
	if err != nil && exec == nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.workflowSvc.Executions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if execs == nil {
		execs = []promptflow.WorkflowExecution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) diagram(w http.ResponseWriter, r *http.Request) {
	d, err := s.workflowSvc.Diagram(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, d)
}

func (s *Server) analysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.workflowSvc.Analyze(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// exportWorkflow downloads the workflow and its run history as JSON or
// Markdown (?format=md).
func (s *Server) exportWorkflow(w http.ResponseWriter, r *http.Request) {
	f, err := output.NewFormatter(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	wf, err := s.workflowSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	report := output.Report{Workflow: wf, Executions: wf.Executions}
	if report.Executions == nil {
		report.Executions = []promptflow.WorkflowExecution{}
	}
	body, err := f.Format(report)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, wf.ID, f.Extension()))
	_, _ = w.Write(body)
}
