package scraper

// RawScheduleEntry is one course cell scraped from the portal timetable,
// before week splitting. The WeekSpec still holds the compact portal
// encoding, e.g. "1-3,6,11-12".
type RawScheduleEntry struct {
	Semester  string
	DayOfWeek int    // 1 = Monday .. 7 = Sunday
	Weekday   string // portal weekday label, 周一..周日
	TimeSlot  string // period-pair label, e.g. 一二
	Periods   string // period range as printed, e.g. 01-02
	WeekSpec  string // compact week encoding as printed
	Course    string
	Teacher   string
	Room      string
}

// CourseUnit is one concrete occurrence of a course in a single week,
// derived from a RawScheduleEntry. WeekSpec keeps the original compact
// encoding so each unit can be traced back to its source entry.
type CourseUnit struct {
	Semester  string `json:"semester"`
	Week      int    `json:"week"`
	DayOfWeek int    `json:"day_of_week"`
	Weekday   string `json:"weekday"`
	TimeSlot  string `json:"time_slot"`
	Periods   string `json:"periods"`
	WeekSpec  string `json:"weeks"`
	Course    string `json:"course_name"`
	Teacher   string `json:"teacher"`
	Room      string `json:"classroom"`
}

// SemesterOption is one entry of the portal's semester drop-down.
type SemesterOption struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

// TableData is a generic parsed portal table (grades, exam seats). The
// portal prints these as plain header+rows tables; callers index columns by
// header name.
type TableData struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}
