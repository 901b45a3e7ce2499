package normalize_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/agentstation/kstartup/pkg/fieldmap"
	"github.com/agentstation/kstartup/pkg/normalize"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fetchedAt = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func defaultTable(t *testing.T) *fieldmap.Table {
	t.Helper()
	tbl, err := fieldmap.Default()
	require.NoError(t, err)
	return tbl
}

func raw(t *testing.T, doc string) records.RawRecord {
	t.Helper()
	var r records.RawRecord
	require.NoError(t, json.Unmarshal([]byte(doc), &r))
	return r
}

func TestNormalizeAnnouncement(t *testing.T) {
	tbl := defaultTable(t)
	in := raw(t, `{
		"pbanc_sn": 175432,
		"biz_pbanc_nm": "  2025년 예비창업패키지 ",
		"supt_biz_clsfc": "사업화",
		"supt_regin": "서울,경기",
		"pbanc_rcpt_bgng_dt": "20250304",
		"pbanc_rcpt_end_dt": "2025-03-25",
		"Detl_pg_url": "https://www.k-startup.go.kr/web/contents/bizpbanc-ongoing.do?pbancSn=175432",
		"biz_prch_dprt_nm": "",
		"new_upstream_field": "ignored"
	}`)

	res := normalize.Normalize(in, tbl, records.KindAnnouncement, fetchedAt, 7)
	require.True(t, res.OK(), "failure: %v", res.Failure)
	rec := res.Record

	assert.Equal(t, "175432", rec.NaturalKey)
	assert.Equal(t, int64(7), rec.Seq)
	assert.Equal(t, fetchedAt, rec.SourceFetchedAt.Time)

	title, _ := rec.Get("title")
	assert.Equal(t, "2025년 예비창업패키지", title.Str)

	start, _ := rec.Get("receipt_start_date")
	assert.Equal(t, "2025-03-03T15:00:00Z", start.String(), "KST midnight in UTC")

	end, _ := rec.Get("receipt_end_date")
	assert.Equal(t, "2025-03-24T15:00:00Z", end.String())

	url, ok := rec.Get("detail_page_url")
	require.True(t, ok, "case drift on Detl_pg_url must still map")
	assert.Contains(t, url.Str, "pbancSn=175432")

	dept, _ := rec.Get("department")
	assert.True(t, dept.Null)

	_, ok = rec.Get("new_upstream_field")
	assert.False(t, ok)
	assert.Empty(t, res.Warnings)
}

func TestNormalizeFailures(t *testing.T) {
	tbl := defaultTable(t)

	tests := []struct {
		name   string
		kind   records.Kind
		doc    string
		key    string
		field  string
		reason records.Reason
	}{
		{
			name:   "missing natural key",
			kind:   records.KindAnnouncement,
			doc:    `{"biz_pbanc_nm": "x", "pbanc_rcpt_bgng_dt": "20250101"}`,
			field:  "announcement_id",
			reason: records.ReasonMissing,
		},
		{
			name:   "missing required title",
			kind:   records.KindAnnouncement,
			doc:    `{"pbanc_sn": "1", "pbanc_rcpt_bgng_dt": "20250101"}`,
			key:    "1",
			field:  "title",
			reason: records.ReasonMissing,
		},
		{
			name:   "blank title counts as missing",
			kind:   records.KindAnnouncement,
			doc:    `{"pbanc_sn": "1", "biz_pbanc_nm": "   ", "pbanc_rcpt_bgng_dt": "20250101"}`,
			key:    "1",
			field:  "title",
			reason: records.ReasonMissing,
		},
		{
			name:   "unparseable date",
			kind:   records.KindAnnouncement,
			doc:    `{"pbanc_sn": "2", "biz_pbanc_nm": "x", "pbanc_rcpt_bgng_dt": "2025.03.04"}`,
			key:    "2",
			field:  "receipt_start_date",
			reason: records.ReasonUnparseable,
		},
		{
			name:   "full timestamp not accepted for day-only field",
			kind:   records.KindAnnouncement,
			doc:    `{"pbanc_sn": "3", "biz_pbanc_nm": "x", "pbanc_rcpt_bgng_dt": "2025-03-04 10:00:00"}`,
			key:    "3",
			field:  "receipt_start_date",
			reason: records.ReasonUnparseable,
		},
		{
			name:   "object where string expected",
			kind:   records.KindAnnouncement,
			doc:    `{"pbanc_sn": "4", "biz_pbanc_nm": {"ko": "x"}, "pbanc_rcpt_bgng_dt": "20250101"}`,
			key:    "4",
			field:  "title",
			reason: records.ReasonTypeMismatch,
		},
		{
			name:   "fractional year",
			kind:   records.KindBusiness,
			doc:    `{"id": "b1", "supt_biz_titl_nm": "x", "biz_yr": 2025.5}`,
			key:    "b1",
			field:  "business_year",
			reason: records.ReasonTypeMismatch,
		},
		{
			name:   "non numeric year",
			kind:   records.KindBusiness,
			doc:    `{"id": "b1", "supt_biz_titl_nm": "x", "biz_yr": "올해"}`,
			key:    "b1",
			field:  "business_year",
			reason: records.ReasonUnparseable,
		},
		{
			name:   "unmapped kind",
			kind:   records.Kind("press"),
			doc:    `{"id": "1"}`,
			field:  "kind",
			reason: records.ReasonMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := normalize.Normalize(raw(t, tt.doc), tbl, tt.kind, fetchedAt, 1)
			require.False(t, res.OK())
			require.NotNil(t, res.Failure)
			assert.Equal(t, tt.key, res.Failure.NaturalKey)
			assert.Equal(t, tt.field, res.Failure.Field)
			assert.Equal(t, tt.reason, res.Failure.Reason)
			assert.Equal(t, int64(1), res.Failure.Seq)
		})
	}
}

func TestNormalizeDateFormats(t *testing.T) {
	tbl := defaultTable(t)

	for _, in := range []string{"2025-01-05 10:22:33", "2025-01-05", "20250105", "2025-01-05T10:22:33+09:00"} {
		t.Run(in, func(t *testing.T) {
			doc := `{"id": "c1", "titl_nm": "공지", "clss_cd": "notice_matr", "fstm_reg_dt": "` + in + `"}`
			res := normalize.Normalize(raw(t, doc), tbl, records.KindContent, fetchedAt, 1)
			require.True(t, res.OK(), "failure: %v", res.Failure)
			v, _ := res.Record.Get("registered_at")
			assert.Equal(t, "2025-01-0", v.String()[:9])
		})
	}
}

func TestNormalizeOptionalFieldWarnings(t *testing.T) {
	tbl := defaultTable(t)
	doc := `{"id": "c1", "titl_nm": "공지", "clss_cd": "notice_matr", "fstm_reg_dt": "2025-01-05", "view_cnt": "1,204", "last_mdfcn_dt": "yesterday"}`

	res := normalize.Normalize(raw(t, doc), tbl, records.KindContent, fetchedAt, 1)
	require.True(t, res.OK())

	views, _ := res.Record.Get("view_count")
	assert.Equal(t, int64(1204), views.Int)

	_, ok := res.Record.Get("modified_at")
	assert.False(t, ok)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "modified_at", res.Warnings[0].Field)
	assert.Equal(t, records.ReasonUnparseable, res.Warnings[0].Reason)
}

func TestNormalizeIsSafeConcurrently(t *testing.T) {
	tbl := defaultTable(t)
	in := raw(t, `{"id": "s1", "titl_nm": "창업기업 실태조사", "fstm_reg_dt": "2024-12-30"}`)

	var wg sync.WaitGroup
	results := make([]normalize.Result, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = normalize.Normalize(in, tbl, records.KindStatistics, fetchedAt, int64(i))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.True(t, res.OK())
		assert.Equal(t, "s1", res.Record.NaturalKey)
		assert.Equal(t, int64(i), res.Record.Seq)
	}
}
