package fetch

import (
	"encoding/json"
	"fmt"

	"github.com/agentstation/kstartup/internal/transport"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
)

// page is one decoded listing response. The upstream has served both
// snake_case and camelCase counters over time; either is accepted.
type page struct {
	CurrentCount  *int `json:"current_count"`
	CurrentCountC *int `json:"currentCount"`
	TotalCount    *int `json:"total_count"`
	TotalCountC   *int `json:"totalCount"`
	Page          *int `json:"page"`
	PerPage       *int `json:"per_page"`
	PerPageC      *int `json:"perPage"`

	Data *[]json.RawMessage `json:"data"`
}

type envelope struct {
	current    int
	total      int
	totalKnown bool
	perPage    int
	items      []records.RawRecord
}

func first(vals ...*int) (int, bool) {
	for _, v := range vals {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

func decodeEnvelope(source string, pageNo int, resp *transport.Response) (*envelope, error) {
	var p page
	if err := resp.JSON(&p); err != nil {
		return nil, errors.NewEnvelopeError(source, pageNo, "response is not a JSON object", err)
	}
	if p.Data == nil {
		return nil, errors.NewEnvelopeError(source, pageNo, "missing data array", nil)
	}

	env := &envelope{items: make([]records.RawRecord, 0, len(*p.Data))}
	for i, raw := range *p.Data {
		var rec records.RawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, errors.NewEnvelopeError(source, pageNo,
				fmt.Sprintf("data item %d is not an object", i), err)
		}
		env.items = append(env.items, rec)
	}

	var ok bool
	if env.current, ok = first(p.CurrentCount, p.CurrentCountC); !ok {
		env.current = len(env.items)
	}
	env.total, env.totalKnown = first(p.TotalCount, p.TotalCountC)
	env.perPage, _ = first(p.PerPage, p.PerPageC)
	if env.current < 0 || env.total < 0 {
		return nil, errors.NewEnvelopeError(source, pageNo, "negative counters", nil)
	}
	return env, nil
}
