package handlers

import (
	"net/http"

	"github.com/agentstation/kstartup/internal/server/response"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/fetch"
	"github.com/agentstation/kstartup/pkg/records"
)

// sourceView is a configured source with its active run, if any.
type sourceView struct {
	fetch.SourceConfig
	ActiveRun *records.Run `json:"active_run,omitempty"`
}

// HandleListSources handles GET /api/v1/sources.
// @Summary List sources
// @Description Configured sources with their active runs
// @Tags sources
// @Produce json
// @Success 200 {object} response.Response{data=[]sourceView}
// @Security ApiKeyAuth
// @Router /api/v1/sources [get].
func (h *Handlers) HandleListSources(w http.ResponseWriter, _ *http.Request) {
	client, err := h.app.Client()
	if err != nil {
		response.InternalError(w, err)
		return
	}

	active := make(map[string]records.Run)
	for _, run := range client.Active() {
		active[run.SourceID] = run
	}

	views := make([]sourceView, 0, len(client.Sources()))
	for _, src := range client.Sources() {
		v := sourceView{SourceConfig: src}
		if run, ok := active[src.ID]; ok {
			v.ActiveRun = &run
		}
		views = append(views, v)
	}
	response.OK(w, views)
}

// HandleTrigger handles POST /api/v1/sources/{id}/trigger.
// @Summary Trigger ingestion
// @Description Starts a run in the background. A source with an active run answers 409 with that run.
// @Tags sources
// @Produce json
// @Param id path string true "Source ID"
// @Success 202 {object} response.Response{data=records.Run}
// @Failure 404 {object} response.Response{error=response.Error}
// @Failure 409 {object} response.Response{data=records.Run,error=response.Error}
// @Security ApiKeyAuth
// @Router /api/v1/sources/{id}/trigger [post].
func (h *Handlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("id")
	client, err := h.app.Client()
	if err != nil {
		response.InternalError(w, err)
		return
	}

	result, err := client.Trigger(r.Context(), sourceID)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	if !result.Accepted {
		response.Conflict(w, result.Run, "Ingestion already running for "+sourceID)
		return
	}

	h.logger.Info().
		Str("source_id", sourceID).
		Str("run_id", result.Run.ID).
		Msg("Ingestion triggered over HTTP")
	response.Accepted(w, result.Run)
}

// HandleCancel handles POST /api/v1/sources/{id}/cancel.
// @Summary Cancel ingestion
// @Description Cancels the active run of a source
// @Tags sources
// @Produce json
// @Param id path string true "Source ID"
// @Success 200 {object} response.Response{data=object}
// @Failure 404 {object} response.Response{error=response.Error}
// @Security ApiKeyAuth
// @Router /api/v1/sources/{id}/cancel [post].
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("id")
	client, err := h.app.Client()
	if err != nil {
		response.InternalError(w, err)
		return
	}

	known := false
	for _, src := range client.Sources() {
		if src.ID == sourceID {
			known = true
			break
		}
	}
	if !known {
		response.ErrorFromType(w, errors.NewNotFoundError("source", sourceID))
		return
	}

	response.OK(w, map[string]any{
		"source_id": sourceID,
		"canceled":  client.Cancel(sourceID),
	})
}
