package portal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmeterbn/usms/pkg/models"
)

const loginPage = `<html><body>
<form>
<input type="hidden" name="__VIEWSTATE" value="dDwtMTM4" />
<input type="hidden" name="__EVENTVALIDATION" value="AQDk" />
<input type="text" name="ASPxRoundPanel1$txtUsername" />
</form>
</body></html>`

func TestHiddenFields(t *testing.T) {
	fields := HiddenFields([]byte(loginPage))

	assert.Equal(t, map[string]string{
		"__VIEWSTATE":       "dDwtMTM4",
		"__EVENTVALIDATION": "AQDk",
	}, fields)
}

func TestParseLoginError(t *testing.T) {
	page := `<html><body><span id="pcErr_lblErrMsg"> Invalid Username/Password! </span></body></html>`
	assert.Equal(t, "Invalid Username/Password!", ParseLoginError([]byte(page)))
	assert.Equal(t, "", ParseLoginError([]byte(loginPage)))
}

func TestSigFromHistory(t *testing.T) {
	history := []string{
		"https://portal.test/ResLogin",
		"https://portal.test/ResLogin?Sig=abc123&x=1",
	}
	assert.Equal(t, "abc123", SigFromHistory(history))
	assert.Equal(t, "", SigFromHistory([]string{"https://portal.test/ResLogin"}))
}

const accountPage = `<html><body>
<span id="ASPxFormLayout1_lblIDNumber">00123456</span>
<span id="ASPxFormLayout1_lblName">AWANG TEST</span>
<span id="ASPxFormLayout1_lblContactNo">+6731234567</span>
<span id="ASPxFormLayout1_lblEmail">test@example.com</span>
<div id="ASPxPanel1_ASPxTreeView1_CD">
<ul><li>account
<ul><li>address
<ul><li>meter 0</li><li>meter 1</li></ul>
</li></ul>
</li></ul>
</div>
</body></html>`

func TestParseAccountInfo(t *testing.T) {
	info, err := ParseAccountInfo([]byte(accountPage))
	require.NoError(t, err)

	assert.Equal(t, "00123456", info.RegNo)
	assert.Equal(t, "AWANG TEST", info.Name)
	assert.Equal(t, "+6731234567", info.ContactNo)
	assert.Equal(t, "test@example.com", info.Email)
	assert.Equal(t, []string{"N0_0_0", "N0_0_1"}, info.MeterNodes)
}

func TestParseAccountInfoMissingTree(t *testing.T) {
	_, err := ParseAccountInfo([]byte(`<html><body></body></html>`))
	assert.Error(t, err)
}

const meterPage = `<html><body>
<span id="ASPxFormLayout1_lblMeterNo">00012345678</span>
<span id="ASPxFormLayout1_lblMeterType">ELECTRIC</span>
<span id="ASPxFormLayout1_lblRemainingUnit">1,234.567 kWh</span>
<span id="ASPxFormLayout1_lblCurrentBalance">$56.78</span>
<span id="ASPxFormLayout1_lblLastUpdated">2/8/2026 13:05:00</span>
<span id="ASPxFormLayout1_lblStatus">ACTIVE</span>
</body></html>`

func TestParseMeterInfo(t *testing.T) {
	info, err := ParseMeterInfo([]byte(meterPage))
	require.NoError(t, err)

	assert.Equal(t, "00012345678", info.No)
	assert.Equal(t, "ELECTRIC", info.Type)
	assert.Equal(t, 1234.567, info.RemainingUnit)
	assert.Equal(t, 56.78, info.RemainingCredit)
	assert.Equal(t, time.Date(2026, 8, 2, 13, 5, 0, 0, models.BruneiTZ), info.LastUpdate)
	assert.True(t, info.IsActive())
}

func TestParseMeterInfoMissingNumber(t *testing.T) {
	_, err := ParseMeterInfo([]byte(`<html><body></body></html>`))
	assert.Error(t, err)
}

const hourlyPage = `<html><body>
<table id="ASPxPageControl1_grid_DXMainTable">
<tr class="dxgvHeader"><td>Time</td><td>Consumption</td></tr>
<tr class="dxgvDataRow"><td>1</td><td>0.123</td></tr>
<tr class="dxgvDataRow"><td>2</td><td>0.456</td></tr>
<tr class="dxgvDataRow"><td>14</td><td>1.5</td></tr>
</table>
</body></html>`

func TestParseHourlyGrid(t *testing.T) {
	hours, err := ParseHourlyGrid([]byte(hourlyPage))
	require.NoError(t, err)

	assert.Equal(t, map[int]float64{1: 0.123, 2: 0.456, 14: 1.5}, hours)
}

func TestParseHourlyGridAbsent(t *testing.T) {
	hours, err := ParseHourlyGrid([]byte(`<html><body>no data</body></html>`))
	require.NoError(t, err)
	assert.Nil(t, hours)
}

const dailyPage = `<html><body>
<table id="ASPxPageControl1_grid_DXMainTable">
<tr class="dxgvDataRow"><td>01/08/2026</td><td>5.25</td></tr>
<tr class="dxgvDataRow"><td>02/08/2026</td><td>6.75</td></tr>
</table>
</body></html>`

func TestParseDailyGrid(t *testing.T) {
	days, err := ParseDailyGrid([]byte(dailyPage))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"01/08/2026": 5.25, "02/08/2026": 6.75}, days)
}

func TestParseReportError(t *testing.T) {
	page := `<html><body><span id="pcErr_lblErrMsg">consumption history not found.</span></body></html>`
	assert.Equal(t, NoHistoryMessage, ParseReportError([]byte(page)))
}

func TestHourlyReportForm(t *testing.T) {
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, models.BruneiTZ)
	form := HourlyReportForm(day)

	assert.Equal(t, "3", form.Get("cboType_VI"))
	assert.Equal(t, "20/08/2026", form.Get("cboDateFrom"))
	assert.Equal(t, form.Get("cboDateFrom"), form.Get("cboDateTo"))
	assert.Contains(t, form.Get("cboDateFrom$State"), "rawValue")
}

func TestDailyReportFormPastMonth(t *testing.T) {
	month := time.Date(2026, 6, 1, 0, 0, 0, 0, models.BruneiTZ)
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, models.BruneiTZ)
	form := DailyReportForm(month, now)

	assert.Equal(t, "1", form.Get("cboType_VI"))
	assert.Equal(t, "01/06/2026", form.Get("cboDateFrom"))
	assert.Equal(t, "30/06/2026", form.Get("cboDateTo"))
}

func TestDailyReportFormCurrentMonthEndsYesterday(t *testing.T) {
	month := time.Date(2026, 8, 1, 0, 0, 0, 0, models.BruneiTZ)
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, models.BruneiTZ)
	form := DailyReportForm(month, now)

	assert.Equal(t, "19/08/2026", form.Get("cboDateTo"))
}
