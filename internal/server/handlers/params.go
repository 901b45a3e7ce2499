package handlers

import (
	"net/url"
	"strconv"
	"time"

	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/store"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// parseLimit reads the limit parameter, defaulting when absent.
func parseLimit(q url.Values) (int, error) {
	raw := q.Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.NewValidationError("limit", raw, "must be a positive integer")
	}
	return min(n, maxLimit), nil
}

// parseMismatchFilter reads kind, field, run_id, since and limit.
func parseMismatchFilter(q url.Values) (store.MismatchFilter, error) {
	var f store.MismatchFilter
	if raw := q.Get("kind"); raw != "" {
		kind, err := records.ParseKind(raw)
		if err != nil {
			return f, err
		}
		f.Kind = kind
	}
	f.Field = q.Get("field")
	f.RunID = q.Get("run_id")
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.NewValidationError("since", raw, "must be an RFC 3339 timestamp")
		}
		f.Since = since
	}
	limit, err := parseLimit(q)
	if err != nil {
		return f, err
	}
	f.Limit = limit
	return f, nil
}
