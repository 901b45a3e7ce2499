package handlers

import (
	"net/http"

	"github.com/agentstation/kstartup/internal/server/response"
)

// HandleListRuns handles GET /api/v1/runs.
// @Summary List runs
// @Description Run history, newest first
// @Tags runs
// @Produce json
// @Param source query string false "Only runs of this source"
// @Param limit query int false "Maximum number of runs" default(50)
// @Success 200 {object} response.Response{data=[]records.Run}
// @Failure 400 {object} response.Response{error=response.Error}
// @Security ApiKeyAuth
// @Router /api/v1/runs [get].
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}

	client, err := h.app.Client()
	if err != nil {
		response.InternalError(w, err)
		return
	}
	runs, err := client.Runs(r.Context(), q.Get("source"), limit)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, runs)
}

// HandleGetRun handles GET /api/v1/runs/{id}.
// @Summary Get run
// @Description One run; active runs report live counters
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Response{data=records.Run}
// @Failure 404 {object} response.Response{error=response.Error}
// @Security ApiKeyAuth
// @Router /api/v1/runs/{id} [get].
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	client, err := h.app.Client()
	if err != nil {
		response.InternalError(w, err)
		return
	}
	run, err := client.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, run)
}
