// Package portaltest runs a scripted stand-in for the USMS portal. It
// speaks just enough ASP.NET to exercise the login flow, the account
// and meter info pages, and the consumption report grids, and it can
// reject credentials or expire the session on demand.
package portaltest

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MeterFixture is the scripted data for one meter.
type MeterFixture struct {
	No            string
	Type          string
	Status        string
	RemainingUnit float64
	Credit        float64
	LastUpdate    time.Time

	// Hourly maps a day ("2006-01-02") to hour-ending labels (1..24)
	// and their consumption.
	Hourly map[string]map[int]float64
	// Daily maps a month ("2006-01") to day labels ("dd/mm/yyyy") and
	// their consumption.
	Daily map[string]map[string]float64
}

// AccountFixture is the scripted account registration data.
type AccountFixture struct {
	RegNo     string
	Name      string
	ContactNo string
	Email     string
}

// Server is the scripted portal.
type Server struct {
	srv *httptest.Server

	username string
	password string

	mu          sync.Mutex
	account     AccountFixture
	meters      []MeterFixture
	sig         string
	sigSeq      int
	authed      bool
	expired     bool
	rejectLogin bool
	hits        map[string]int
}

// NewServer starts a portal accepting the given credentials.
func NewServer(username, password string, account AccountFixture, meters ...MeterFixture) *Server {
	s := &Server{
		username: username,
		password: password,
		account:  account,
		meters:   meters,
		hits:     make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ResLogin", s.handleLogin)
	mux.HandleFunc("/LoginSession.aspx", s.handleSession)
	mux.HandleFunc("/AccountInfo", s.handleAccountInfo)
	mux.HandleFunc("/Report/UsageHistory", s.handleReport)
	mux.HandleFunc("/SessionExpire.aspx", s.handleExpired)

	s.srv = httptest.NewServer(s.counting(mux))
	return s
}

// URL returns the portal base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the portal down.
func (s *Server) Close() { s.srv.Close() }

// RejectLogin makes subsequent login attempts fail with the portal's
// credential error banner.
func (s *Server) RejectLogin(reject bool) {
	s.mu.Lock()
	s.rejectLogin = reject
	s.mu.Unlock()
}

// ExpireSession invalidates the current session. Authenticated pages
// redirect through the expiry page until the client logs in again.
func (s *Server) ExpireSession() {
	s.mu.Lock()
	s.expired = true
	s.mu.Unlock()
}

// SetMeter replaces the fixture for the meter with the same number.
func (s *Server) SetMeter(m MeterFixture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.meters {
		if s.meters[i].No == m.No {
			s.meters[i] = m
			return
		}
	}
	s.meters = append(s.meters, m)
}

// Hits returns how many requests the given method and path received.
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// ResetHits clears the request counters.
func (s *Server) ResetHits() {
	s.mu.Lock()
	s.hits = make(map[string]int)
	s.mu.Unlock()
}

func (s *Server) counting(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

const hiddenState = `
<input type="hidden" name="__VIEWSTATE" value="dDwtMTM4NzY5NTcwNzs7Pg==" />
<input type="hidden" name="__EVENTVALIDATION" value="AQDkNzY5NTcwNw==" />
`

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fmt.Fprintf(w, `<html><body><form>%s</form></body></html>`, hiddenState)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user := r.PostForm.Get("ASPxRoundPanel1$txtUsername")
	pass := r.PostForm.Get("ASPxRoundPanel1$txtPassword")

	s.mu.Lock()
	reject := s.rejectLogin || user != s.username || pass != s.password
	if !reject {
		s.sigSeq++
		s.sig = fmt.Sprintf("sig-%d", s.sigSeq)
	}
	sig := s.sig
	s.mu.Unlock()

	if reject {
		fmt.Fprintf(w, `<html><body>%s<span id="pcErr_lblErrMsg">Invalid Username/Password!</span></body></html>`, hiddenState)
		return
	}
	http.Redirect(w, r, "/ResLogin?Sig="+sig, http.StatusFound)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Query().Get("pLoginName") != s.username || r.URL.Query().Get("Sig") != s.sig || s.sig == "" {
		http.Error(w, "invalid session signature", http.StatusForbidden)
		return
	}
	s.authed = true
	s.expired = false
	fmt.Fprintf(w, `<html><body>%s</body></html>`, hiddenState)
}

// authorized redirects through the expiry page when there is no live
// session, mirroring the portal's behavior on authenticated pages.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	ok := s.authed && !s.expired
	s.mu.Unlock()
	if !ok {
		http.Redirect(w, r, "/SessionExpire.aspx", http.StatusFound)
	}
	return ok
}

func (s *Server) handleExpired(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `<html><body>Your Session Has Expired, Please Login Again.</body></html>`)
}

func (s *Server) handleAccountInfo(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	if r.Method == http.MethodPost {
		s.handleMeterNode(w, r)
		return
	}

	s.mu.Lock()
	account := s.account
	n := len(s.meters)
	s.mu.Unlock()

	var leaves strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&leaves, `<li>meter %d</li>`, i)
	}

	fmt.Fprintf(w, `<html><body>%s
<span id="ASPxFormLayout1_lblIDNumber">%s</span>
<span id="ASPxFormLayout1_lblName">%s</span>
<span id="ASPxFormLayout1_lblContactNo">%s</span>
<span id="ASPxFormLayout1_lblEmail">%s</span>
<div id="ASPxPanel1_ASPxTreeView1_CD">
<ul><li>account
<ul><li>address
<ul>%s</ul>
</li></ul>
</li></ul>
</div>
</body></html>`, hiddenState, account.RegNo, account.Name, account.ContactNo, account.Email, leaves.String())
}

func (s *Server) handleMeterNode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	arg := r.PostForm.Get("__EVENTARGUMENT")
	var x, y, z int
	if _, err := fmt.Sscanf(arg, "NCLK|N%d_%d_%d", &x, &y, &z); err != nil {
		http.Error(w, "bad node argument: "+arg, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if z < 0 || z >= len(s.meters) {
		http.Error(w, "no such meter node", http.StatusBadRequest)
		return
	}
	m := s.meters[z]

	status := m.Status
	if status == "" {
		status = "ACTIVE"
	}
	unit := "kWh"
	if m.Type == "WATER" {
		unit = "meter cube"
	}

	fmt.Fprintf(w, `<html><body>%s
<span id="ASPxFormLayout1_lblAddress">NO 1, JALAN TEST</span>
<span id="ASPxFormLayout1_lblKampong">KG TEST</span>
<span id="ASPxFormLayout1_lblMukim">MUKIM TEST</span>
<span id="ASPxFormLayout1_lblDistrict">BRUNEI MUARA</span>
<span id="ASPxFormLayout1_lblPostcode">BB1234</span>
<span id="ASPxFormLayout1_lblMeterNo">%s</span>
<span id="ASPxFormLayout1_lblMeterType">%s</span>
<span id="ASPxFormLayout1_lblCustomerType">RESIDENTIAL</span>
<span id="ASPxFormLayout1_lblRemainingUnit">%.3f %s</span>
<span id="ASPxFormLayout1_lblCurrentBalance">$%.2f</span>
<span id="ASPxFormLayout1_lblLastUpdated">%s</span>
<span id="ASPxFormLayout1_lblStatus">%s</span>
</body></html>`, hiddenState, m.No, m.Type, m.RemainingUnit, unit, m.Credit,
		m.LastUpdate.Format("2/1/2006 15:04:05"), status)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	if r.Method != http.MethodPost {
		fmt.Fprintf(w, `<html><body>%s</body></html>`, hiddenState)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	meterNo, err := base64.StdEncoding.DecodeString(r.URL.Query().Get("p"))
	if err != nil {
		http.Error(w, "bad meter id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	var meter *MeterFixture
	for i := range s.meters {
		if s.meters[i].No == string(meterNo) {
			meter = &s.meters[i]
			break
		}
	}
	s.mu.Unlock()
	if meter == nil {
		http.Error(w, "unknown meter", http.StatusBadRequest)
		return
	}

	var rows []string
	switch r.PostForm.Get("cboType_VI") {
	case "3":
		day, err := time.Parse("02/01/2006", r.PostForm.Get("cboDateFrom"))
		if err != nil {
			http.Error(w, "bad date: "+r.PostForm.Get("cboDateFrom"), http.StatusBadRequest)
			return
		}
		for hour := 1; hour <= 24; hour++ {
			if v, ok := meter.Hourly[day.Format("2006-01-02")][hour]; ok {
				rows = append(rows, fmt.Sprintf(
					`<tr class="dxgvDataRow"><td>%d</td><td>%.3f</td></tr>`, hour, v))
			}
		}
	case "1":
		month, err := time.Parse("02/01/2006", r.PostForm.Get("cboDateFrom"))
		if err != nil {
			http.Error(w, "bad date: "+r.PostForm.Get("cboDateFrom"), http.StatusBadRequest)
			return
		}
		for day := 1; day <= 31; day++ {
			label := fmt.Sprintf("%02d/%02d/%04d", day, month.Month(), month.Year())
			if v, ok := meter.Daily[month.Format("2006-01")][label]; ok {
				rows = append(rows, fmt.Sprintf(
					`<tr class="dxgvDataRow"><td>%s</td><td>%.3f</td></tr>`, label, v))
			}
		}
	default:
		http.Error(w, "bad report type", http.StatusBadRequest)
		return
	}

	if len(rows) == 0 {
		fmt.Fprintf(w, `<html><body>%s<span id="pcErr_lblErrMsg">consumption history not found.</span></body></html>`, hiddenState)
		return
	}
	fmt.Fprintf(w, `<html><body>%s
<table id="ASPxPageControl1_grid_DXMainTable">
<tr class="dxgvHeader"><td>Time</td><td>Consumption</td></tr>
%s
</table>
</body></html>`, hiddenState, strings.Join(rows, "\n"))
}
