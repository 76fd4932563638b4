package scraper

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const scheduleURL = "/jsxsd/xskb/xskb_list.do"

// courseCellDivider separates stacked courses inside one timetable cell.
const courseCellDivider = "---------------------"

var (
	weeksPattern   = regexp.MustCompile(`([0-9,-]+)\(周\)`)
	periodsPattern = regexp.MustCompile(`\[([0-9-]+)节\]`)
	brTagPattern   = regexp.MustCompile(`(?i)<br\s*/?>`)
)

// timeSlotNames maps the timetable row index to the period-pair label the
// portal prints in its first column.
var timeSlotNames = map[int]string{
	1: "一二",
	2: "三四",
	3: "五六",
	4: "七八",
	5: "九十",
	6: "十一十二",
}

var weekdayNames = []string{"", "周一", "周二", "周三", "周四", "周五", "周六", "周日"}

// FetchSchedule downloads the timetable for the given year and semester and
// returns it exploded into per-week course units. Empty year/semester fall
// back to the portal's default semester.
func (c *Client) FetchSchedule(year, semester string) ([]CourseUnit, error) {
	entries, err := c.FetchRawSchedule(year, semester)
	if err != nil {
		return nil, err
	}
	units := SplitIntoUnits(entries)
	c.logger.Info("schedule normalized", "entries", len(entries), "units", len(units))
	return units, nil
}

// FetchRawSchedule downloads and parses the timetable without week
// splitting. The portal wants a GET for the page (which carries hidden
// fields and the semester drop-down) followed by a POST echoing those
// hidden fields back.
func (c *Client) FetchRawSchedule(year, semester string) ([]RawScheduleEntry, error) {
	page, err := c.session.Get(scheduleURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching schedule page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parsing schedule page: %w", err)
	}

	form := url.Values{}
	form.Set("cj0701id", "")
	form.Set("zc", "")
	form.Set("demo", "")
	form.Set("sfFD", "1")

	switch {
	case year != "" && semester != "":
		form.Set("xnxq01id", year+"-"+semester)
	case year != "":
		form.Set("xnxq01id", year)
	default:
		selected := doc.Find(`select[name="xnxq01id"] option[selected]`).AttrOr("value", "")
		if selected != "" {
			form.Set("xnxq01id", selected)
		}
	}

	doc.Find("input[type=hidden]").Each(func(i int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		form.Add(name, s.AttrOr("value", ""))
	})

	resp, err := c.session.Request(http.MethodPost, scheduleURL, form)
	if err != nil {
		return nil, fmt.Errorf("fetching timetable: %w", err)
	}

	tableDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parsing timetable: %w", err)
	}

	entries := parseScheduleTable(tableDoc, form.Get("xnxq01id"))
	c.logger.Info("schedule fetched", "semester", form.Get("xnxq01id"), "entries", len(entries))
	return entries, nil
}

// parseScheduleTable walks the #kbtable grid: six period rows, one column
// per weekday starting at column 1.
func parseScheduleTable(doc *goquery.Document, semester string) []RawScheduleEntry {
	var entries []RawScheduleEntry

	table := doc.Find("table#kbtable")
	if table.Length() == 0 {
		return entries
	}

	table.Find("tr").Each(func(rowIdx int, row *goquery.Selection) {
		if rowIdx < 1 || rowIdx > 6 {
			return // row 0 is the header, rows past 6 are remarks
		}
		row.Find("td").Each(func(cellIdx int, cell *goquery.Selection) {
			// cell 0 is the period label, Monday starts at cell 1
			dayIdx := cellIdx
			if dayIdx < 1 || dayIdx > 7 {
				return
			}
			text := cellText(cell)
			if strings.TrimSpace(text) == "" {
				return
			}
			for _, course := range parseCourseCell(text) {
				course.Semester = semester
				course.DayOfWeek = dayIdx
				course.Weekday = weekdayNames[dayIdx]
				course.TimeSlot = timeSlotNames[rowIdx]
				entries = append(entries, course)
			}
		})
	})

	return entries
}

// cellText prefers the expanded kbcontent div the portal hides behind the
// short label, falling back to the whole cell.
func cellText(cell *goquery.Selection) string {
	if div := cell.Find("div.kbcontent"); div.Length() > 0 {
		return selectionText(div)
	}
	return selectionText(cell)
}

// selectionText renders a selection to text with <br> treated as newline,
// since the portal separates course fields with line breaks.
func selectionText(sel *goquery.Selection) string {
	html, err := goquery.OuterHtml(sel)
	if err != nil {
		return sel.Text()
	}
	html = brTagPattern.ReplaceAllString(html, "\n")
	frag, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return sel.Text()
	}
	return frag.Text()
}

// parseCourseCell splits one timetable cell into its stacked courses. Each
// course block is a run of lines: name, teacher, "1-3,6(周)[01-02节]", room.
func parseCourseCell(content string) []RawScheduleEntry {
	var courses []RawScheduleEntry

	for _, block := range strings.Split(content, courseCellDivider) {
		var lines []string
		for _, line := range strings.Split(block, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}

		course := RawScheduleEntry{Course: lines[0]}
		if len(lines) > 1 {
			course.Teacher = lines[1]
		}
		if len(lines) > 2 {
			if m := weeksPattern.FindStringSubmatch(lines[2]); m != nil {
				course.WeekSpec = m[1]
			}
			if m := periodsPattern.FindStringSubmatch(lines[2]); m != nil {
				course.Periods = m[1]
			}
		}
		if len(lines) > 3 {
			course.Room = lines[3]
		}

		if course.Course != "" {
			courses = append(courses, course)
		}
	}

	return courses
}
