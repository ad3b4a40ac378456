package api

import (
	"encoding/json"
	"net/http"

	"github.com/soochol/promptflow/internal/model"
	"github.com/soochol/promptflow/internal/services"
)

func (s *Server) promptParams(w http.ResponseWriter, r *http.Request) {
	out := make(map[services.TaskType]model.Params, len(services.Tasks))
	for _, t := range services.Tasks {
		out[t] = services.OptimalParams(t)
	}
	writeJSON(w, http.StatusOK, out)
}

type enhanceRequest struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context"`
}

func (s *Server) enhancePrompt(w http.ResponseWriter, r *http.Request) {
	var req enhanceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	out, err := s.promptSvc.Enhance(r.Context(), req.Prompt, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type outputRequest struct {
	Output string `json:"output"`
}

func decodeOutput(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req outputRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return "", false
	}
	return req.Output, true
}

func (s *Server) inferPrompt(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeOutput(w, r)
	if !ok {
		return
	}
	prompt, err := s.promptSvc.Infer(r.Context(), text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

func (s *Server) analyzeOutput(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeOutput(w, r)
	if !ok {
		return
	}
	a, err := s.promptSvc.AnalyzeOutput(r.Context(), text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
