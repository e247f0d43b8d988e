package alertapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/prealert/internal/workflow"
)

type stepView struct {
	Name      workflow.StepName   `json:"name"`
	Status    workflow.StepStatus `json:"status"`
	Attempts  int                 `json:"attempts"`
	Error     string              `json:"error,omitempty"`
	Output    json.RawMessage     `json:"output,omitempty"`
	StartedAt time.Time           `json:"started_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type workflowView struct {
	*workflow.Instance
	Steps []stepView `json:"steps"`
}

func newWorkflowView(inst *workflow.Instance, steps []*workflow.StepResult) *workflowView {
	v := &workflowView{Instance: inst, Steps: make([]stepView, 0, len(steps))}
	for _, s := range steps {
		sv := stepView{
			Name:      s.Name,
			Status:    s.Status,
			Attempts:  s.Attempts,
			Error:     s.Error,
			Output:    s.Output,
			StartedAt: s.StartedAt,
			UpdatedAt: s.UpdatedAt,
		}
		// audio is served by the audio endpoint once the alert exists
		if s.Name == workflow.StepSynthesizeAudio {
			sv.Output = nil
		}
		v.Steps = append(v.Steps, sv)
	}
	return v
}

func (a *API) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("prealert.instance.id", id))

	inst, steps, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get workflow", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("prealert.instance.status", string(inst.Status)))
	writeJSON(w, http.StatusOK, newWorkflowView(inst, steps))
}
