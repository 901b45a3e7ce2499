package handlers

import (
	"net/http"

	"github.com/agentstation/kstartup/internal/server/cache"
	"github.com/agentstation/kstartup/internal/server/response"
)

// HandleListMismatches handles GET /api/v1/mismatches.
// @Summary List mismatches
// @Description Classification mismatches, newest first
// @Tags drift
// @Produce json
// @Param kind query string false "Record kind"
// @Param field query string false "Canonical field"
// @Param run_id query string false "Run ID"
// @Param since query string false "RFC 3339 lower bound"
// @Param limit query int false "Maximum number of mismatches" default(50)
// @Success 200 {object} response.Response{data=[]reconcile.Mismatch}
// @Failure 400 {object} response.Response{error=response.Error}
// @Security ApiKeyAuth
// @Router /api/v1/mismatches [get].
func (h *Handlers) HandleListMismatches(w http.ResponseWriter, r *http.Request) {
	filter, err := parseMismatchFilter(r.URL.Query())
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	client, err := h.app.Client()
	if err != nil {
		response.InternalError(w, err)
		return
	}

	key := cache.Key("mismatches", r.URL.Query().Encode())
	data, hit, err := h.cache.GetOrLoad(key, func() (any, error) {
		return client.Mismatches(r.Context(), filter)
	})
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	w.Header().Set("X-Cache", cacheStatus(hit))
	response.OK(w, data)
}

// HandleDrift handles GET /api/v1/drift.
// @Summary Drift summary
// @Description Mismatches grouped by field and observed value
// @Tags drift
// @Produce json
// @Param kind query string false "Record kind"
// @Param field query string false "Canonical field"
// @Param run_id query string false "Run ID"
// @Param since query string false "RFC 3339 lower bound"
// @Success 200 {object} response.Response{data=report.Summary}
// @Failure 400 {object} response.Response{error=response.Error}
// @Security ApiKeyAuth
// @Router /api/v1/drift [get].
func (h *Handlers) HandleDrift(w http.ResponseWriter, r *http.Request) {
	filter, err := parseMismatchFilter(r.URL.Query())
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	// the summary covers every matching mismatch
	filter.Limit = 0

	client, err := h.app.Client()
	if err != nil {
		response.InternalError(w, err)
		return
	}

	key := cache.Key("drift", r.URL.Query().Encode())
	data, hit, err := h.cache.GetOrLoad(key, func() (any, error) {
		return client.Drift(r.Context(), filter)
	})
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	w.Header().Set("X-Cache", cacheStatus(hit))
	response.OK(w, data)
}

func cacheStatus(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}
