// Package portal knows the USMS portal's page layout: which pages exist,
// what their ASP.NET postback payloads look like, and how to parse the
// HTML they return. Everything page-specific lives here so the session
// and cache layers stay free of provider details.
package portal

import (
	"fmt"
	"net/url"
	"time"

	"github.com/smartmeterbn/usms/pkg/models"
)

// Portal page paths, relative to the client base URL.
const (
	DefaultBaseURL = "https://www.usms.com.bn/SmartMeter"

	LoginPath        = "/ResLogin"
	SessionPath      = "/LoginSession.aspx"
	AccountInfoPath  = "/AccountInfo"
	UsageHistoryPath = "/Report/UsageHistory"
)

// Form field names on the login page.
const (
	loginButtonField   = "ASPxRoundPanel1$btnLogin"
	loginUsernameField = "ASPxRoundPanel1$txtUsername"
	loginPasswordField = "ASPxRoundPanel1$txtPassword"
)

// UsageHistoryQuery returns the report page path for a meter.
func UsageHistoryQuery(meterID string) string {
	return fmt.Sprintf("%s?p=%s", UsageHistoryPath, url.QueryEscape(meterID))
}

// SessionQuery returns the login confirmation path for a username and the
// Sig token issued during login.
func SessionQuery(username, sig string) string {
	return fmt.Sprintf("%s?pLoginName=%s&Sig=%s", SessionPath, url.QueryEscape(username), url.QueryEscape(sig))
}

// LoginForm fills the login page's credential fields on top of the
// page's hidden ASP.NET state.
func LoginForm(state map[string]string, username, password string) url.Values {
	form := url.Values{}
	for k, v := range state {
		form.Set(k, v)
	}
	form.Set(loginButtonField, "Login")
	form.Set(loginUsernameField, username)
	form.Set(loginPasswordField, password)
	return form
}

// MeterNodeForm builds the tree-node postback that selects a meter on the
// account info page.
func MeterNodeForm(nodeNo string) url.Values {
	form := url.Values{}
	form.Set("ASPxTreeView1",
		`{&quot;nodesState&quot;:[{&quot;N0_0&quot;:&quot;T&quot;,&quot;N0&quot;:&quot;T&quot;},&quot;`+
			nodeNo+`&quot;,{}]}`)
	form.Set("__EVENTARGUMENT", "NCLK|"+nodeNo)
	form.Set("__EVENTTARGET", "ASPxPanel1$ASPxTreeView1")
	return form
}

// HourlyReportForm builds the report search payload for one day of
// hourly consumption.
func HourlyReportForm(date time.Time) url.Values {
	day := fmt.Sprintf("%02d/%02d/%04d", date.Day(), date.Month(), date.Year())
	epoch := rawEpochMillis(date)

	form := url.Values{}
	form.Set("cboType_VI", "3")
	form.Set("cboType", "Hourly (Max 1 day)")
	form.Add("btnRefresh", "Search")
	form.Add("btnRefresh", "")
	form.Set("cboDateFrom", day)
	form.Set("cboDateTo", day)
	form.Set("cboDateFrom$State", stateRawValue(epoch))
	form.Set("cboDateTo$State", stateRawValue(epoch))
	return form
}

// DailyReportForm builds the report search payload for the month
// containing date. For the current month the range ends yesterday;
// for past months it ends on the month's last day.
func DailyReportForm(date time.Time, now time.Time) url.Values {
	from := time.Date(date.Year(), date.Month(), 1, 8, 0, 0, 0, models.BruneiTZ)

	var to time.Time
	if date.Year() == now.Year() && date.Month() == now.Month() {
		to = now.AddDate(0, 0, -1)
	} else {
		firstOfNext := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, models.BruneiTZ).AddDate(0, 1, 0)
		to = firstOfNext.AddDate(0, 0, -1)
	}

	form := url.Values{}
	form.Set("cboType_VI", "1")
	form.Set("cboType", "Daily (Max 1 month)")
	form.Set("btnRefresh", "Search")
	form.Set("cboDateFrom", fmt.Sprintf("01/%02d/%04d", date.Month(), date.Year()))
	form.Set("cboDateTo", fmt.Sprintf("%02d/%02d/%04d", to.Day(), to.Month(), to.Year()))
	form.Set("cboDateFrom$State", stateRawValue(rawEpochMillis(from)))
	form.Set("cboDateTo$State", stateRawValue(rawEpochMillis(to)))
	return form
}

// rawEpochMillis renders a wall-clock time the way the portal's date
// picker does: the local wall clock reinterpreted as UTC, in
// milliseconds.
func rawEpochMillis(date time.Time) int64 {
	return time.Date(date.Year(), date.Month(), date.Day(),
		date.Hour(), date.Minute(), date.Second(), 0, time.UTC).UnixMilli()
}

func stateRawValue(epoch int64) string {
	return fmt.Sprintf(`{&quot;rawValue&quot;:&quot;%d&quot;}`, epoch)
}
