package records_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := records.ParseKind(" Announcement ")
	require.NoError(t, err)
	assert.Equal(t, records.KindAnnouncement, k)

	_, err = records.ParseKind("press")
	assert.True(t, errors.IsValidationError(err))
}

func TestRawRecordPreservesOrder(t *testing.T) {
	var raw records.RawRecord
	err := json.Unmarshal([]byte(`{"pbanc_sn": 175432, "biz_pbanc_nm": "예비창업패키지", "detl_pg_url": null, "Aply_trgt": "대학생"}`), &raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"pbanc_sn", "biz_pbanc_nm", "detl_pg_url", "Aply_trgt"}, raw.Keys())

	v, ok := raw.Get("pbanc_sn")
	require.True(t, ok)
	assert.Equal(t, json.Number("175432"), v)

	v, ok = raw.Get("detl_pg_url")
	assert.True(t, ok)
	assert.Nil(t, v)

	v, name, ok := raw.Lookup("aply_trgt")
	require.True(t, ok)
	assert.Equal(t, "Aply_trgt", name)
	assert.Equal(t, "대학생", v)

	out, err := json.Marshal(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pbanc_sn":175432,"biz_pbanc_nm":"예비창업패키지","detl_pg_url":null,"Aply_trgt":"대학생"}`, string(out))
}

func TestRawRecordRejectsNonObject(t *testing.T) {
	var raw records.RawRecord
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &raw))
}

func TestValueCanonicalForms(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	date := records.DateValue(time.Date(2025, 3, 4, 9, 0, 0, 0, kst))

	assert.Equal(t, "2025-03-04T00:00:00Z", date.String())
	assert.Equal(t, "42", records.IntValue(42).String())
	assert.Equal(t, "", records.NullValue().String())
	assert.Nil(t, records.NullValue().Any())

	// stored documents come back from JSON with float64 numbers
	assert.Equal(t, records.IntValue(1200).String(), records.Canonical(float64(1200)))
	assert.Equal(t, date.String(), records.Canonical(date.Any()))
	assert.Equal(t, "", records.Canonical(nil))
}

func TestValidationFailureError(t *testing.T) {
	f := records.ValidationFailure{
		Kind:   records.KindAnnouncement,
		Field:  "receipt_start_date",
		Reason: records.ReasonUnparseable,
		Detail: `"2025.03.04"`,
	}
	assert.Equal(t, `announcement <unknown>: field receipt_start_date unparseable: "2025.03.04"`, f.Error())
}
