package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/soochol/promptflow/internal/engine"
	"github.com/soochol/promptflow/internal/promptflow"
)

// streamBuffer is the per-run event buffer. Publishing never blocks the
// executor; events beyond the buffer are dropped.
const streamBuffer = 256

func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream") ||
		r.URL.Query().Get("stream") == "true"
}

type runResult struct {
	exec *promptflow.WorkflowExecution
	err  error
}

// streamRun runs workflow id and forwards its events as SSE frames, ending
// with a "done" event carrying the execution record or an "error" event.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, id string, vars map[string]any) {
	if _, err := s.workflowSvc.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	execID := promptflow.GenerateID("exec")
	ctx := engine.WithExecutionID(r.Context(), execID)
	subCtx, unsubscribe := context.WithCancel(ctx)
	defer unsubscribe()
	events := s.events.Channel(subCtx, streamBuffer, func(e engine.Event) bool {
		return e.ExecutionID == execID
	})

	done := make(chan runResult, 1)
	go func() {
		exec, err := s.workflowSvc.Run(ctx, id, vars)
		done <- runResult{exec, err}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	seq := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Client went away; the run sees the same cancellation.
				return
			}
			seq++
			writeSSEEvent(w, seq, ev)
			flusher.Flush()
		case res := <-done:
			// Events are published synchronously, so everything for this
			// run is already buffered.
			for drained := false; !drained; {
				select {
				case ev, ok := <-events:
					if !ok {
						drained = true
						continue
					}
					seq++
					writeSSEEvent(w, seq, ev)
				default:
					drained = true
				}
			}
			if res.exec == nil {
				writeFrame(w, 0, "error", map[string]string{"error": res.err.Error()})
			} else {
				writeFrame(w, 0, "done", res.exec)
			}
			flusher.Flush()
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, seq int, ev engine.Event) {
	writeFrame(w, seq, string(ev.Type), ev)
}

func writeFrame(w http.ResponseWriter, seq int, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{}`)
	}
	if seq > 0 {
		fmt.Fprintf(w, "id: %d\n", seq)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
