package portal

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/smartmeterbn/usms/pkg/models"
	"github.com/smartmeterbn/usms/usmserr"
)

// NoHistoryMessage is the portal's sentinel for a query with no
// consumption data. The portal sometimes emits it even when the grid is
// present, so callers treat it as "maybe empty" and check the grid too.
const NoHistoryMessage = "consumption history not found."

// HiddenFields extracts the page's hidden input fields. The portal's
// ASP.NET postbacks require echoing these back on every POST.
func HiddenFields(page []byte) map[string]string {
	fields := make(map[string]string)
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return fields
	}
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "input" {
			return
		}
		if attr(n, "type") != "hidden" {
			return
		}
		name, value := attr(n, "name"), attr(n, "value")
		if name != "" && value != "" {
			fields[name] = value
		}
	})
	return fields
}

// ParseLoginError returns the portal's login failure banner, if the page
// carries one.
func ParseLoginError(page []byte) string {
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(textOfID(root, "pcErr_lblErrMsg"))
}

// SigFromHistory finds the Sig token the portal appends to its login
// redirect chain. An empty return means the credentials were rejected.
func SigFromHistory(history []string) string {
	for _, hop := range history {
		if idx := strings.Index(hop, "Sig="); idx >= 0 {
			sig := hop[idx+len("Sig="):]
			if amp := strings.IndexByte(sig, '&'); amp >= 0 {
				sig = sig[:amp]
			}
			return sig
		}
	}
	return ""
}

// ParseAccountInfo parses the account info page: registration details and
// the meter navigation tree.
func ParseAccountInfo(page []byte) (models.AccountInfo, error) {
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return models.AccountInfo{}, &usmserr.DataParseError{Page: "account info", Err: err}
	}

	info := models.AccountInfo{
		RegNo:     strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblIDNumber")),
		Name:      strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblName")),
		ContactNo: strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblContactNo")),
		Email:     strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblEmail")),
	}

	tree := findByID(root, "ASPxPanel1_ASPxTreeView1_CD")
	if tree == nil {
		return info, &usmserr.DataParseError{Page: "account info", Err: fmt.Errorf("meter tree not found")}
	}

	// The tree is three levels of nested lists; each leaf is one meter,
	// addressed by its Nx_y_z node number.
	for x, lvl1 := range childItems(firstChildElement(tree, "ul")) {
		for y, lvl2 := range childItems(firstChildElement(lvl1, "ul")) {
			for z := range childItems(firstChildElement(lvl2, "ul")) {
				info.MeterNodes = append(info.MeterNodes, fmt.Sprintf("N%d_%d_%d", x, y, z))
			}
		}
	}

	return info, nil
}

// ParseMeterInfo parses the meter info panel shown after a tree-node
// postback on the account info page.
func ParseMeterInfo(page []byte) (models.MeterInfo, error) {
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return models.MeterInfo{}, &usmserr.DataParseError{Page: "meter info", Err: err}
	}

	info := models.MeterInfo{
		Address:      strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblAddress")),
		Kampong:      strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblKampong")),
		Mukim:        strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblMukim")),
		District:     strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblDistrict")),
		Postcode:     strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblPostcode")),
		No:           strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblMeterNo")),
		Type:         strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblMeterType")),
		CustomerType: strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblCustomerType")),
		Status:       strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblStatus")),
	}
	if info.No == "" {
		return info, &usmserr.DataParseError{Page: "meter info", Err: fmt.Errorf("meter number not found")}
	}

	remaining := strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblRemainingUnit"))
	if remaining != "" {
		first := strings.Fields(remaining)[0]
		info.RemainingUnit, err = strconv.ParseFloat(strings.ReplaceAll(first, ",", ""), 64)
		if err != nil {
			return info, &usmserr.DataParseError{Page: "meter info", Err: fmt.Errorf("remaining unit %q: %w", remaining, err)}
		}
	}

	credit := strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblCurrentBalance"))
	if credit != "" {
		parts := strings.Split(credit, "$")
		info.RemainingCredit, err = strconv.ParseFloat(strings.ReplaceAll(parts[len(parts)-1], ",", ""), 64)
		if err != nil {
			return info, &usmserr.DataParseError{Page: "meter info", Err: fmt.Errorf("remaining credit %q: %w", credit, err)}
		}
	}

	lastUpdate := strings.TrimSpace(textOfID(root, "ASPxFormLayout1_lblLastUpdated"))
	if lastUpdate != "" {
		info.LastUpdate, err = time.ParseInLocation("2/1/2006 15:04:05", lastUpdate, models.BruneiTZ)
		if err != nil {
			return info, &usmserr.DataParseError{Page: "meter info", Err: fmt.Errorf("last updated %q: %w", lastUpdate, err)}
		}
	}

	return info, nil
}

// ParseReportError returns the report page's error banner, or the empty
// string when the page has none.
func ParseReportError(page []byte) string {
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(textOfID(root, "pcErr_lblErrMsg"))
}

// ParseHourlyGrid parses the hourly consumption grid into a map of
// hour-ending label (1..24) to consumption. A nil map with no error
// means the grid was absent, i.e. no data for the day.
func ParseHourlyGrid(page []byte) (map[int]float64, error) {
	rows, err := gridRows(page)
	if err != nil || rows == nil {
		return nil, err
	}

	hours := make(map[int]float64, len(rows))
	for _, cells := range rows {
		if len(cells) < 2 {
			continue
		}
		hour, err := strconv.Atoi(strings.TrimSpace(cells[0]))
		if err != nil {
			return nil, &usmserr.DataParseError{Page: "hourly report", Err: fmt.Errorf("hour %q: %w", cells[0], err)}
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(cells[1]), 64)
		if err != nil {
			return nil, &usmserr.DataParseError{Page: "hourly report", Err: fmt.Errorf("consumption %q: %w", cells[1], err)}
		}
		hours[hour] = value
	}
	return hours, nil
}

// ParseDailyGrid parses the daily consumption grid into a map of
// "dd/mm/yyyy" date label to consumption. A nil map with no error means
// the grid was absent.
func ParseDailyGrid(page []byte) (map[string]float64, error) {
	rows, err := gridRows(page)
	if err != nil || rows == nil {
		return nil, err
	}

	days := make(map[string]float64, len(rows))
	for _, cells := range rows {
		if len(cells) < 2 {
			continue
		}
		day := strings.TrimSpace(cells[0])
		value, err := strconv.ParseFloat(strings.TrimSpace(cells[1]), 64)
		if err != nil {
			return nil, &usmserr.DataParseError{Page: "daily report", Err: fmt.Errorf("consumption %q: %w", cells[1], err)}
		}
		days[day] = value
	}
	return days, nil
}

func gridRows(page []byte) ([][]string, error) {
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, &usmserr.DataParseError{Page: "report", Err: err}
	}

	table := findByID(root, "ASPxPageControl1_grid_DXMainTable")
	if table == nil {
		return nil, nil
	}

	var rows [][]string
	walk(table, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "tr" {
			return
		}
		if !strings.Contains(attr(n, "class"), "dxgvDataRow") {
			return
		}
		var cells []string
		walk(n, func(td *html.Node) {
			if td.Type == html.ElementNode && td.Data == "td" {
				cells = append(cells, textContent(td))
			}
		})
		rows = append(rows, cells)
	})
	return rows, nil
}

// HTML helpers.

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func findByID(n *html.Node, id string) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) {
		if found == nil && c.Type == html.ElementNode && attr(c, "id") == id {
			found = c
		}
	})
	return found
}

func textOfID(root *html.Node, id string) string {
	n := findByID(root, id)
	if n == nil {
		return ""
	}
	return textContent(n)
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	})
	return sb.String()
}

func firstChildElement(n *html.Node, name string) *html.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == name {
			return c
		}
	}
	return nil
}

func childItems(ul *html.Node) []*html.Node {
	if ul == nil {
		return nil
	}
	var items []*html.Node
	for c := ul.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "li" {
			items = append(items, c)
		}
	}
	return items
}
