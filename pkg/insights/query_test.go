package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slach/logs-insights/pkg/timespan"
)

func i64(v int64) *int64 { return &v }
func i32(v int32) *int32 { return &v }

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func resolver() timespan.Resolver {
	return timespan.NewResolver(func() time.Time { return now })
}

func TestParseEmptyDocument(t *testing.T) {
	for _, raw := range []string{"", "   \n", "{}"} {
		q, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, Query{}, q)
	}
}

func TestParseInvalidDocument(t *testing.T) {
	for _, raw := range []string{"{", "not json", `{"limit": "ten"}`, `[]`, `{} {}`} {
		_, err := Parse(raw)
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, ErrInvalidDocument)
	}
}

func TestParseToleratesComments(t *testing.T) {
	raw := `{
  // production lambdas
  "logGroupNames": ["/aws/lambda/api",],
  "relativeTime": "PT1H",
}`
	q, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"/aws/lambda/api"}, q.LogGroupNames)
	assert.Equal(t, "PT1H", q.RelativeTime)
}

func TestSerializeRoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		query Query
	}{
		{"empty", Query{}},
		{"relative", Query{LogGroupNames: []string{"a", "b"}, RelativeTime: "PT15M", QueryString: "fields @timestamp"}},
		{"absolute", Query{LogGroupNames: []string{"a"}, StartTime: i64(100), EndTime: i64(200), Limit: i32(50)}},
		{"legacy", Query{LogGroupName: "legacy", QueryString: "fields @message\n | limit 5"}},
		{"zero_bounds", Query{StartTime: i64(0), EndTime: i64(0), Limit: i32(0)}},
		{"empty_groups", Query{LogGroupNames: []string{}, RelativeTime: "PT5M"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			text, err := Serialize(tc.query)
			require.NoError(t, err)
			back, err := Parse(text)
			require.NoError(t, err)
			assert.Equal(t, tc.query, back)
		})
	}
}

func TestSerializeIsPretty(t *testing.T) {
	text, err := Serialize(Query{RelativeTime: "PT15M", QueryString: "fields @timestamp"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"relativeTime\": \"PT15M\",\n  \"queryString\": \"fields @timestamp\"\n}\n", text)
}

func TestSerializeKeepsEmptyGroupList(t *testing.T) {
	text, err := Serialize(Query{LogGroupNames: []string{}})
	require.NoError(t, err)
	assert.Contains(t, text, `"logGroupNames": []`)

	text, err = Serialize(Query{})
	require.NoError(t, err)
	assert.NotContains(t, text, "logGroupNames")
}

func TestGroupNamesPrecedence(t *testing.T) {
	assert.Nil(t, Query{}.GroupNames())
	assert.Equal(t, []string{"old"}, Query{LogGroupName: "old"}.GroupNames())
	assert.Equal(t, []string{"new"}, Query{LogGroupName: "old", LogGroupNames: []string{"new"}}.GroupNames())

	migrated := Query{LogGroupName: "old", LogGroupNames: []string{"new"}}.MigrateLegacy()
	assert.Equal(t, "", migrated.LogGroupName)
	assert.Equal(t, []string{"new", "old"}, migrated.LogGroupNames)

	migrated = Query{LogGroupName: "old"}.MigrateLegacy()
	assert.Equal(t, []string{"old"}, migrated.LogGroupNames)

	q := Query{LogGroupName: "old"}.WithGroups([]string{"x", "y"})
	assert.Equal(t, "", q.LogGroupName)
	assert.Equal(t, []string{"x", "y"}, q.LogGroupNames)
}

func TestSpanSwitchingClearsOtherRepresentation(t *testing.T) {
	q := Query{RelativeTime: "PT15M"}.SetAbsolute(1, 2)
	assert.Equal(t, "", q.RelativeTime)
	assert.Equal(t, int64(1), *q.StartTime)

	q = q.SetRelative("PT1H")
	assert.Nil(t, q.StartTime)
	assert.Nil(t, q.EndTime)

	q = Query{RelativeTime: "P1D", StartTime: i64(1), EndTime: i64(2)}.Normalize()
	assert.Nil(t, q.StartTime)
	assert.Equal(t, "P1D", q.RelativeTime)
}

func TestToStartRequestRelative(t *testing.T) {
	q := Query{LogGroupName: "g", RelativeTime: "PT15M", QueryString: "fields @timestamp", Limit: i32(10)}
	req, err := ToStartRequest(q, resolver())
	require.NoError(t, err)
	assert.Equal(t, []string{"g"}, req.LogGroupNames)
	assert.Equal(t, now.Unix(), req.EndTime)
	assert.Equal(t, now.Unix()-900, req.StartTime)
	assert.Equal(t, "fields @timestamp", req.QueryString)
	assert.Equal(t, int32(10), *req.Limit)
	assert.Nil(t, q.StartTime, "resolving must not mutate the query")
}

func TestToStartRequestReanchors(t *testing.T) {
	current := now
	r := timespan.NewResolver(func() time.Time { return current })
	q := Query{RelativeTime: "PT1H"}

	first, err := ToStartRequest(q, r)
	require.NoError(t, err)
	current = current.Add(10 * time.Minute)
	second, err := ToStartRequest(q, r)
	require.NoError(t, err)
	assert.Equal(t, first.EndTime+600, second.EndTime)
}

func TestToStartRequestAbsolute(t *testing.T) {
	req, err := ToStartRequest(Query{StartTime: i64(100), EndTime: i64(200)}, resolver())
	require.NoError(t, err)
	assert.Equal(t, int64(100), req.StartTime)
	assert.Equal(t, int64(200), req.EndTime)
}

func TestToStartRequestMalformed(t *testing.T) {
	_, err := ToStartRequest(Query{RelativeTime: "XYZ"}, resolver())
	require.ErrorIs(t, err, timespan.ErrMalformedDuration)
}

func TestCorrelated(t *testing.T) {
	base := Query{LogGroupName: "legacy", RelativeTime: "P1D", Limit: i32(5)}
	ts := time.Date(2022, 1, 9, 3, 13, 56, 0, time.UTC)

	q := Correlated(base, ts, "f659a3f9-a2b7", "")
	assert.Equal(t, []string{"legacy"}, q.LogGroupNames)
	assert.Equal(t, "", q.RelativeTime)
	assert.Nil(t, q.Limit)
	assert.Equal(t, ts.Unix()-900, *q.StartTime)
	assert.Equal(t, ts.Unix()+900, *q.EndTime)
	assert.Equal(t, "fields @timestamp, @message | sort @timestamp desc | filter @requestId = 'f659a3f9-a2b7'", q.QueryString)

	q = Correlated(base, ts, "it's", "trace_id = '{id}'")
	assert.Equal(t, `trace_id = 'it\'s'`, q.QueryString)
}

func TestDefault(t *testing.T) {
	q := Default([]string{"/aws/lambda/api"})
	assert.Equal(t, "PT15M", q.RelativeTime)
	assert.Equal(t, DefaultQueryString, q.QueryString)
	assert.Equal(t, []string{"/aws/lambda/api"}, q.LogGroupNames)
}

func TestParseRecordTimestamp(t *testing.T) {
	ts, err := ParseRecordTimestamp("2022-01-09 03:13:56.962")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 1, 9, 3, 13, 56, 962000000, time.UTC), ts)

	ts, err = ParseRecordTimestamp("1641698036962")
	require.NoError(t, err)
	assert.Equal(t, int64(1641698036962), ts.UnixMilli())

	_, err = ParseRecordTimestamp("")
	require.Error(t, err)
}
