package scraper

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// fakePortal mimics the jsxsd portal closely enough for login and content
// tests: a session cookie handed out on the entry page, a captcha endpoint,
// a form login that answers 200 with an error banner on failure, and content
// pages that serve the login form to unauthenticated sessions.
type fakePortal struct {
	server *httptest.Server

	mu             sync.Mutex
	captchaFetches int
	loginAttempts  int
	mainFrameHits  int
	gradesHits     int
	logoutHits     int
	authed         map[string]bool

	correctAnswer    string
	rejectCredential bool
	scheduleHTML     string
	gradesHTML       string
	userInfoHTML     string
}

const portalCookie = "JSESSIONID"

func newFakePortal() *fakePortal {
	p := &fakePortal{
		authed:        make(map[string]bool),
		correctAnswer: "ab12",
		scheduleHTML:  defaultScheduleHTML,
		gradesHTML:    defaultGradesHTML,
		userInfoHTML:  defaultUserInfoHTML,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/jsxsd/", p.handleEntry)
	mux.HandleFunc("/jsxsd/verifycode.servlet", p.handleCaptcha)
	mux.HandleFunc("/jsxsd/xk/LoginToXk", p.handleLogin)
	mux.HandleFunc("/jsxsd/framework/xsMain.jsp", p.handleMainFrame)
	mux.HandleFunc("/jsxsd/xskb/xskb_list.do", p.handleSchedule)
	mux.HandleFunc("/jsxsd/kscj/cjcx_list", p.handleGrades)
	mux.HandleFunc("/jsxsd/grxx/xsxx", p.handleUserInfo)
	mux.HandleFunc("/jsxsd/logout", p.handleLogout)

	p.server = httptest.NewServer(mux)
	return p
}

func (p *fakePortal) Close() { p.server.Close() }

func (p *fakePortal) URL() string { return p.server.URL }

func (p *fakePortal) loginPage(w http.ResponseWriter) {
	fmt.Fprint(w, `<html><body><h1>用户登录</h1>
<form action="/jsxsd/xk/LoginToXk" method="post">
<input type="hidden" name="csrftoken" value="tok123">
<input type="text" name="RANDOMCODE">
</form></body></html>`)
}

func (p *fakePortal) handleEntry(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: portalCookie, Value: "sess-1", Path: "/"})
	p.loginPage(w)
}

func (p *fakePortal) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.captchaFetches++
	p.mu.Unlock()
	w.Header().Set("Content-Type", "image/png")
	fmt.Fprint(w, "fake-png-bytes")
}

func (p *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.loginAttempts++
	p.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch {
	case p.rejectCredential:
		fmt.Fprint(w, `<html><body><font color="red">用户名或密码错误</font></body></html>`)
	case r.FormValue("csrftoken") != "tok123":
		fmt.Fprint(w, `<html><body><font color="red">非法请求</font></body></html>`)
	case r.FormValue("RANDOMCODE") != p.correctAnswer:
		fmt.Fprint(w, `<html><body><font color="red">验证码错误!!</font></body></html>`)
	default:
		if c, err := r.Cookie(portalCookie); err == nil {
			p.mu.Lock()
			p.authed[c.Value] = true
			p.mu.Unlock()
		}
		http.Redirect(w, r, "/jsxsd/framework/xsMain.jsp", http.StatusFound)
	}
}

func (p *fakePortal) isAuthed(r *http.Request) bool {
	c, err := r.Cookie(portalCookie)
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authed[c.Value]
}

// revokeAll simulates a server-side session wipe.
func (p *fakePortal) revokeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authed = make(map[string]bool)
}

func (p *fakePortal) counts() (captcha, logins, mainFrame int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captchaFetches, p.loginAttempts, p.mainFrameHits
}

func (p *fakePortal) handleMainFrame(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.mainFrameHits++
	p.mu.Unlock()
	if !p.isAuthed(r) {
		p.loginPage(w)
		return
	}
	fmt.Fprint(w, `<html><body>学生个人中心</body></html>`)
}

func (p *fakePortal) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if !p.isAuthed(r) {
		p.loginPage(w)
		return
	}
	if r.Method == http.MethodGet {
		fmt.Fprint(w, `<html><body><form>
<input type="hidden" name="xszd.xn" value="2023">
<select name="xnxq01id">
<option value="2023-2024-1">2023-2024-1</option>
<option value="2023-2024-2" selected="selected">2023-2024-2</option>
</select></form></body></html>`)
		return
	}
	fmt.Fprint(w, p.scheduleHTML)
}

func (p *fakePortal) handleGrades(w http.ResponseWriter, r *http.Request) {
	if !p.isAuthed(r) {
		p.loginPage(w)
		return
	}
	p.mu.Lock()
	p.gradesHits++
	p.mu.Unlock()
	fmt.Fprint(w, p.gradesHTML)
}

func (p *fakePortal) handleLogout(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.logoutHits++
	p.mu.Unlock()
	if c, err := r.Cookie(portalCookie); err == nil {
		p.mu.Lock()
		delete(p.authed, c.Value)
		p.mu.Unlock()
	}
	p.loginPage(w)
}

func (p *fakePortal) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if !p.isAuthed(r) {
		p.loginPage(w)
		return
	}
	fmt.Fprint(w, p.userInfoHTML)
}

const defaultScheduleHTML = `<html><body><table id="kbtable">
<tr><th>节次</th><th>周一</th><th>周二</th><th>周三</th><th>周四</th><th>周五</th><th>周六</th><th>周日</th></tr>
<tr>
<td>一二</td>
<td><div class="kbcontent">高等数学<br/>张三<br/>1-3,6(周)[01-02节]<br/>教1-101</div></td>
<td></td><td></td><td></td><td></td><td></td><td></td>
</tr>
<tr>
<td>三四</td>
<td></td>
<td><div class="kbcontent">大学英语<br/>李四<br/>2-4(周)[03-04节]<br/>外语楼201<br/>---------------------<br/>体育<br/>王五<br/>5-8(周)[03-04节]<br/>操场</div></td>
<td></td><td></td><td></td><td></td><td></td>
</tr>
</table></body></html>`

const defaultGradesHTML = `<html><body>
<select name="xnxq01id">
<option value="2023-2024-1">2023-2024-1</option>
<option value="2023-2024-2" selected="selected">2023-2024-2</option>
</select>
<table id="dataList">
<tr><th>课程名称</th><th>成绩</th><th>学分</th></tr>
<tr><td>高等数学</td><td>92</td><td>4</td></tr>
<tr><td>大学英语</td><td>85</td><td>3</td></tr>
</table></body></html>`

const defaultUserInfoHTML = `<html><body><table>
<tr><td>院系：护理学院 | 专业：护理学 | 学制：4 | 班级：23本护理4班 | 学号：12023050204013</td></tr>
<tr><td>姓名</td><td>付佳鹭</td><td>性别</td><td>女</td><td>姓名拼音</td><td>fujialu</td></tr>
<tr><td>入学日期</td><td>202309</td><td>毕业日期</td><td></td></tr>
</table></body></html>`

// alwaysSolver answers every captcha with the same text.
type alwaysSolver struct {
	answer string
	err    error
	calls  int
}

func (s *alwaysSolver) Solve(image []byte) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}
