package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/soochol/promptflow/internal/condition"
	"github.com/soochol/promptflow/internal/llmutil"
	"github.com/soochol/promptflow/internal/output"
)

func (s *Server) conditionTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, condition.Templates())
}

type evaluateRequest struct {
	Expression string            `json:"expression"`
	Output     string            `json:"output"`
	Variables  map[string]any    `json:"variables"`
	Steps      map[string]string `json:"steps"`
}

type evaluateResponse struct {
	Value  any    `json:"value"`
	Result bool   `json:"result"`
	Error  string `json:"error,omitempty"`
}

// evaluateCondition lets editors try an expression against sample data.
// Expression errors are reported in the body with Result false, matching
// how the executor treats them.
func (s *Server) evaluateCondition(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Expression) == "" {
		http.Error(w, "expression is required", http.StatusBadRequest)
		return
	}
	c := condition.Context{Output: req.Output, Variables: req.Variables, Steps: req.Steps}
	v, err := s.evaluator.Evaluate(req.Expression, c)
	if err != nil {
		writeJSON(w, http.StatusOK, evaluateResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{
		Value:  v,
		Result: s.evaluator.EvaluateBoolean(req.Expression, c),
	})
}

type parseRequest struct {
	Text string `json:"text"`
}

// parseResponse runs the model-output parser. Unparseable text is not an
// HTTP error; the failure record is returned with 422. ?format=md renders a
// successful result as a Markdown report instead.
func (s *Server) parseResponse(w http.ResponseWriter, r *http.Request) {
	f, err := output.NewFormatter(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req parseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	res := llmutil.Parse(req.Text)
	if !res.OK() {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	if _, isJSON := f.(output.JSONFormatter); isJSON {
		writeJSON(w, http.StatusOK, res)
		return
	}
	body, err := f.Format(res)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	_, _ = w.Write(body)
}
