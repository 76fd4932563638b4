package scraper

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var weekToken = regexp.MustCompile(`^([0-9]+)(?:-([0-9]+))?$`)

// ParseWeekSpec parses a compact week expression such as "3-5,8,10-11" into
// the set of week numbers it covers. Decoration around the digits (the
// trailing 周 unit label, ordinal markers, whitespace) is stripped before
// matching. A token that still cannot be parsed is skipped and reported in
// the returned warnings so one bad token never discards the whole entry.
func ParseWeekSpec(raw string) (map[int]struct{}, []string) {
	weeks := make(map[int]struct{})
	var warnings []string

	if strings.TrimSpace(raw) == "" {
		return weeks, nil
	}

	for _, token := range strings.Split(raw, ",") {
		cleaned := stripWeekDecoration(token)
		if cleaned == "" {
			if strings.TrimSpace(token) != "" {
				warnings = append(warnings, fmt.Sprintf("unparseable week token %q", token))
			}
			continue
		}

		m := weekToken.FindStringSubmatch(cleaned)
		if m == nil {
			warnings = append(warnings, fmt.Sprintf("unparseable week token %q", token))
			continue
		}

		start, err := strconv.Atoi(m[1])
		if err != nil || start < 1 {
			warnings = append(warnings, fmt.Sprintf("unparseable week token %q", token))
			continue
		}

		end := start
		if m[2] != "" {
			end, err = strconv.Atoi(m[2])
			if err != nil || end < start {
				// Reversed ranges are skipped, not silently swapped.
				warnings = append(warnings, fmt.Sprintf("unparseable week token %q", token))
				continue
			}
		}

		for w := start; w <= end; w++ {
			weeks[w] = struct{}{}
		}
	}

	return weeks, warnings
}

// stripWeekDecoration drops everything except digits and the range hyphen,
// so tokens like " 第3周 " or "16-17(周)" reduce to "3" and "16-17".
func stripWeekDecoration(token string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(token) {
		if (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SplitIntoUnits explodes each raw entry into one CourseUnit per week its spec
// covers, sorted ascending by week number. Entries whose spec parses to an
// empty set yield no units; that is logged rather than treated as an error.
func SplitIntoUnits(entries []RawScheduleEntry) []CourseUnit {
	units := make([]CourseUnit, 0, len(entries))

	for _, entry := range entries {
		set, warnings := ParseWeekSpec(entry.WeekSpec)
		for _, warning := range warnings {
			slog.Warn("skipping week token", "course", entry.Course, "weeks", entry.WeekSpec, "reason", warning)
		}
		if len(set) == 0 {
			slog.Info("entry covers no weeks", "course", entry.Course, "weeks", entry.WeekSpec)
			continue
		}

		weeks := make([]int, 0, len(set))
		for w := range set {
			weeks = append(weeks, w)
		}
		sort.Ints(weeks)

		for _, w := range weeks {
			units = append(units, CourseUnit{
				Semester:  entry.Semester,
				Week:      w,
				DayOfWeek: entry.DayOfWeek,
				Weekday:   entry.Weekday,
				TimeSlot:  entry.TimeSlot,
				Periods:   entry.Periods,
				WeekSpec:  entry.WeekSpec,
				Course:    entry.Course,
				Teacher:   entry.Teacher,
				Room:      entry.Room,
			})
		}
	}

	return units
}
