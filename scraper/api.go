package scraper

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	gocache "github.com/patrickmn/go-cache"
)

const (
	gradesURL    = "/jsxsd/kscj/cjcx_list"
	examsURL     = "/jsxsd/xsks/xsksap_list"
	userInfoURL  = "/jsxsd/grxx/xsxx"
	mainFrameURL = "/jsxsd/framework/xsMain.jsp"

	cacheKeySemesters = "semesters"
	cacheKeyUserInfo  = "user_info"
)

// Client exposes the portal's content endpoints on top of an authenticated
// SessionManager. Slow-changing lookups (semester list, user profile) are
// cached in memory.
type Client struct {
	session *SessionManager
	cache   *gocache.Cache
	logger  *slog.Logger
}

// NewClient builds a portal client over session.
func NewClient(session *SessionManager, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		session: session,
		cache:   gocache.New(10*time.Minute, 20*time.Minute),
		logger:  logger,
	}
}

// Session returns the underlying session manager.
func (c *Client) Session() *SessionManager { return c.session }

// AvailableSemesters lists the semester drop-down options of the grades
// page. The list changes at most once a term, so it is cached.
func (c *Client) AvailableSemesters() ([]SemesterOption, error) {
	if cached, ok := c.cache.Get(cacheKeySemesters); ok {
		return cached.([]SemesterOption), nil
	}

	resp, err := c.session.Get(gradesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching semester list: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parsing semester list: %w", err)
	}

	var semesters []SemesterOption
	doc.Find(`select[name="xnxq01id"] option`).Each(func(i int, s *goquery.Selection) {
		value := s.AttrOr("value", "")
		label := strings.TrimSpace(s.Text())
		if value == "" || label == "" {
			return
		}
		_, selected := s.Attr("selected")
		semesters = append(semesters, SemesterOption{Value: value, Label: label, Selected: selected})
	})

	c.cache.Set(cacheKeySemesters, semesters, gocache.DefaultExpiration)
	c.logger.Info("semester list fetched", "count", len(semesters))
	return semesters, nil
}

// UserInfo returns the student-record card as key/value pairs. Cached, the
// card never changes within a session.
func (c *Client) UserInfo() (map[string]string, error) {
	if cached, ok := c.cache.Get(cacheKeyUserInfo); ok {
		return cached.(map[string]string), nil
	}

	resp, err := c.session.Get(userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parsing user info: %w", err)
	}

	info := parseUserCard(doc)
	c.cache.Set(cacheKeyUserInfo, info, gocache.DefaultExpiration)
	c.logger.Info("user info fetched", "fields", len(info))
	return info, nil
}

// Grades fetches the grade list, optionally filtered to one semester. The
// result is the portal table as-is; interpreting columns is left to callers
// (the transport is the only part owned here).
func (c *Client) Grades(year, semester string) (*TableData, error) {
	form := url.Values{}
	form.Set("kksj", "")
	form.Set("kcxz", "")
	form.Set("kcmc", "")
	form.Set("xsfs", "all")
	if year != "" && semester != "" {
		form.Set("kksj", year+"-"+semester)
	} else if year != "" {
		form.Set("kksj", year)
	}

	resp, err := c.session.Post(gradesURL, form)
	if err != nil {
		return nil, fmt.Errorf("fetching grades: %w", err)
	}
	return parseDataTable(resp.Body)
}

// ExamSchedule fetches the exam seating table.
func (c *Client) ExamSchedule() (*TableData, error) {
	resp, err := c.session.Post(examsURL, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("fetching exam schedule: %w", err)
	}
	return parseDataTable(resp.Body)
}

// TestConnection reports whether the portal serves the student main frame
// for the current session.
func (c *Client) TestConnection() bool {
	resp, err := c.session.Get(mainFrameURL, nil)
	if err != nil {
		c.logger.Warn("connection test failed", "error", err)
		return false
	}
	return resp.StatusCode == http.StatusOK
}

// InvalidateCache drops the cached lookups.
func (c *Client) InvalidateCache() {
	c.cache.Flush()
}

// parseDataTable extracts the portal's standard #dataList table (grades,
// exams) into headers plus rows.
func parseDataTable(body []byte) (*TableData, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing data table: %w", err)
	}

	table := doc.Find("table#dataList")
	if table.Length() == 0 {
		table = doc.Find("table.Nsb_r_list")
	}
	if table.Length() == 0 {
		return &TableData{}, nil
	}

	data := &TableData{}
	table.Find("tr").Each(func(rowIdx int, row *goquery.Selection) {
		if rowIdx == 0 {
			row.Find("th, td").Each(func(i int, cell *goquery.Selection) {
				data.Headers = append(data.Headers, strings.TrimSpace(cell.Text()))
			})
			return
		}
		var cells []string
		row.Find("td").Each(func(i int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})
		if len(cells) > 0 {
			data.Rows = append(data.Rows, cells)
		}
	})

	return data, nil
}

// parseUserCard pulls key/value pairs out of the student-record card, which
// the portal prints as alternating label/value cells plus a few pipe-joined
// summary lines.
func parseUserCard(doc *goquery.Document) map[string]string {
	info := make(map[string]string)

	doc.Find("table tr").Each(func(i int, row *goquery.Selection) {
		text := strings.TrimSpace(row.Text())
		if strings.Contains(text, "院系：") && strings.Contains(text, "专业：") {
			for _, part := range strings.Split(text, "|") {
				if k, v, ok := strings.Cut(part, "："); ok {
					k, v = strings.TrimSpace(k), strings.TrimSpace(v)
					if k != "" && v != "" {
						info[k] = v
					}
				}
			}
			return
		}

		var cells []string
		row.Find("td, th").Each(func(i int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})
		// alternating label/value cells
		for i := 0; i+1 < len(cells); i += 2 {
			key := strings.Trim(cells[i], "：:")
			value := cells[i+1]
			if key != "" && value != "" && containsHan(key) {
				info[key] = value
			}
		}
	})

	return info
}

func containsHan(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}
