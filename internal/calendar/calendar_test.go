package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDay(t *testing.T) {
	d, err := ParseDay(" 2024-02-29 ")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.String())

	for _, s := range []string{"", "2024-2-1", "01/02/2024", "2023-02-29"} {
		_, err := ParseDay(s)
		assert.Error(t, err, s)
	}
}

func TestRange(t *testing.T) {
	days := Range(MustParseDay("2024-02-27"), MustParseDay("2024-03-02"))
	got := make([]string, 0, len(days))
	for _, d := range days {
		got = append(got, d.String())
	}
	assert.Equal(t, []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}, got)

	assert.Len(t, Range(MustParseDay("2024-01-01"), MustParseDay("2024-01-01")), 1)
	assert.Nil(t, Range(MustParseDay("2024-01-02"), MustParseDay("2024-01-01")))
	assert.Nil(t, Range(Day{}, MustParseDay("2024-01-01")))
}

func TestDaysUntil(t *testing.T) {
	a := MustParseDay("2024-03-30")
	b := MustParseDay("2024-04-02")
	assert.Equal(t, 3, a.DaysUntil(b))
	assert.Equal(t, -3, b.DaysUntil(a))
	assert.True(t, a.AddDays(3).Equal(b))
}

func TestDayJSON(t *testing.T) {
	var v struct {
		Start Day `json:"start"`
		End   Day `json:"end"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"start":"2024-01-05","end":""}`), &v))
	assert.Equal(t, "2024-01-05", v.Start.String())
	assert.True(t, v.End.IsZero())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2024-01-05","end":""}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"start":"tomorrow"}`), &v))
}

func TestClock(t *testing.T) {
	assert.True(t, ValidClock("09:05"))
	assert.True(t, ValidClock("23:59"))
	assert.False(t, ValidClock("9:05"))
	assert.False(t, ValidClock("24:00"))
	assert.False(t, ValidClock("09:5"))

	loc := time.FixedZone("UTC-3", -3*3600)
	at, err := At(MustParseDay("2024-06-01"), "18:30", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 21, 30, 0, 0, time.UTC), at.UTC())
	assert.Equal(t, "18:30", FormatClock(at))

	_, err = At(MustParseDay("2024-06-01"), "noon", nil)
	assert.Error(t, err)
}
