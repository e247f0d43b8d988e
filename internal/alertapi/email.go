package alertapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/prealert/internal/workflow"
)

// recipients accepts either a single (possibly comma separated) string or a
// list of addresses, and normalizes to a comma separated string.
type recipients string

func (r *recipients) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = recipients(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return errors.New("emailTo must be a string or an array of strings")
	}
	*r = recipients(strings.Join(list, ","))
	return nil
}

// inboundEmail is posted by the mail relay for every received message.
type inboundEmail struct {
	EmailFrom string     `json:"emailFrom"`
	EmailTo   recipients `json:"emailTo"`
	EmailText string     `json:"emailText"`
	Subject   string     `json:"subject"`
}

func (a *API) handleIngestEmail(w http.ResponseWriter, r *http.Request) {
	var in inboundEmail
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	sr, err := a.svc.Submit(r.Context(), &workflow.Trigger{
		EmailFrom: in.EmailFrom,
		EmailTo:   string(in.EmailTo),
		EmailText: in.EmailText,
		Subject:   in.Subject,
	})
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to submit email", "email_from", in.EmailFrom)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span := trace.SpanFromContext(r.Context())
	if sr.Skipped {
		span.SetAttributes(attribute.String("prealert.submit.skipped", sr.Reason))
		a.logger.Info(r.Context(), "email skipped", "reason", sr.Reason, "email_from", in.EmailFrom)
		writeJSON(w, http.StatusAccepted, map[string]any{"skipped": true, "reason": sr.Reason})
		return
	}

	span.SetAttributes(attribute.String("prealert.instance.id", sr.ID))
	a.logger.Info(r.Context(), "workflow created", "instance_id", sr.ID, "email_from", in.EmailFrom)
	writeJSON(w, http.StatusAccepted, map[string]any{"id": sr.ID})
}
