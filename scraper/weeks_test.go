package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekSet(weeks ...int) map[int]struct{} {
	set := make(map[int]struct{}, len(weeks))
	for _, w := range weeks {
		set[w] = struct{}{}
	}
	return set
}

func TestParseWeekSpec(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     map[int]struct{}
		warnings int
	}{
		{"mixed ranges and singletons", "3-5,8,10-11,13,16-17", weekSet(3, 4, 5, 8, 10, 11, 13, 16, 17), 0},
		{"single week", "5", weekSet(5), 0},
		{"empty spec", "", weekSet(), 0},
		{"whitespace only", "   ", weekSet(), 0},
		{"duplicate collapses", "3-5,4", weekSet(3, 4, 5), 0},
		{"trailing unit label", "1-3,6,11-12(周)", weekSet(1, 2, 3, 6, 11, 12), 0},
		{"ordinal decoration", "第3周", weekSet(3), 0},
		{"spaces around tokens", " 3 , 5-6 ", weekSet(3, 5, 6), 0},
		{"degenerate range", "4-4", weekSet(4), 0},
		{"reversed range skipped", "5-3", weekSet(), 1},
		{"reversed range does not kill siblings", "5-3,7", weekSet(7), 1},
		{"letters skipped", "abc", weekSet(), 1},
		{"bad token among good", "3-5,x,8", weekSet(3, 4, 5, 8), 1},
		{"zero week skipped", "0", weekSet(), 1},
		{"double hyphen skipped", "3--5", weekSet(), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings := ParseWeekSpec(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Len(t, warnings, tt.warnings)
		})
	}
}

func TestSplitIntoUnits(t *testing.T) {
	entry := RawScheduleEntry{
		Semester:  "2023-2024-1",
		DayOfWeek: 3,
		Weekday:   "周三",
		TimeSlot:  "三四",
		Periods:   "03-04",
		WeekSpec:  "3-5,8",
		Course:    "高等数学",
		Teacher:   "张三",
		Room:      "教1-101",
	}

	units := SplitIntoUnits([]RawScheduleEntry{entry})
	require.Len(t, units, 4)

	wantWeeks := []int{3, 4, 5, 8}
	for i, unit := range units {
		assert.Equal(t, wantWeeks[i], unit.Week)
		assert.Equal(t, "3-5,8", unit.WeekSpec, "original spec must be retained")
		assert.Equal(t, entry.Semester, unit.Semester)
		assert.Equal(t, entry.DayOfWeek, unit.DayOfWeek)
		assert.Equal(t, entry.Weekday, unit.Weekday)
		assert.Equal(t, entry.TimeSlot, unit.TimeSlot)
		assert.Equal(t, entry.Periods, unit.Periods)
		assert.Equal(t, entry.Course, unit.Course)
		assert.Equal(t, entry.Teacher, unit.Teacher)
		assert.Equal(t, entry.Room, unit.Room)
	}
}

func TestSplitIntoUnitsEmptySpec(t *testing.T) {
	entries := []RawScheduleEntry{
		{Course: "军事理论", WeekSpec: ""},
		{Course: "形势与政策", WeekSpec: "bogus"},
	}
	units := SplitIntoUnits(entries)
	assert.Empty(t, units, "unparseable or empty specs yield zero units, not an error")
}

func TestSplitIntoUnitsDeterministic(t *testing.T) {
	entries := []RawScheduleEntry{
		{Course: "大学英语", WeekSpec: "10-11,3-5,8"},
		{Course: "线性代数", WeekSpec: "2,1"},
	}
	first := SplitIntoUnits(entries)
	second := SplitIntoUnits(entries)
	assert.Equal(t, first, second)

	var weeks []int
	for _, u := range first {
		if u.Course == "大学英语" {
			weeks = append(weeks, u.Week)
		}
	}
	assert.Equal(t, []int{3, 4, 5, 8, 10, 11}, weeks, "units are sorted ascending by week")
}
