package alertapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/prealert/internal/alert"
)

// MaxLatestLimit caps the limit query parameter of the latest alerts endpoint.
const MaxLatestLimit = 50

func (a *API) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	orgKey := chi.URLParam(r, "orgKey")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("prealert.org_key", orgKey))

	o, ok, err := a.alerts.OrganizationByKey(r.Context(), orgKey)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get organization", "org_key", orgKey)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleLatestAlerts(w http.ResponseWriter, r *http.Request) {
	orgKey := chi.URLParam(r, "orgKey")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("prealert.org_key", orgKey))

	limit, ok := parseLimit(r.URL.Query().Get("limit"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	alerts, err := a.alerts.LatestAlerts(r.Context(), orgKey, limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list alerts", "org_key", orgKey)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// parseLimit returns the default for an empty value and clamps to MaxLatestLimit.
func parseLimit(s string) (int, bool) {
	if s == "" {
		return alert.DefaultLatestLimit, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, MaxLatestLimit), true
}

func (a *API) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	orgKey := chi.URLParam(r, "orgKey")
	alertID := chi.URLParam(r, "alertID")
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("prealert.org_key", orgKey),
		attribute.String("prealert.alert.id", alertID),
	)

	al, ok, err := a.alerts.AlertForOrg(r.Context(), orgKey, alertID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get alert", "org_key", orgKey, "alert_id", alertID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if al.AudioURL == "" {
		writeError(w, http.StatusNotFound, "audio file not found for this alert")
		return
	}

	obj, ok, err := a.audio.Get(r.Context(), al.AudioURL)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to fetch audio", "alert_id", alertID, "key", al.AudioURL)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "audio file not found in storage")
		return
	}

	h := w.Header()
	h.Set("Content-Type", alert.AudioContentType)
	h.Set("Content-Disposition", `inline; filename="`+alertID+`.mp3"`)
	h.Set("Cache-Control", "public, max-age=31536000")
	h.Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}
