package transport

import "strings"

// Classifier decides whether a portal response indicates an expired or
// missing session. The portal's signal is brittle and page-specific, so
// it is pluggable rather than hard-coded into the session manager.
type Classifier interface {
	Expired(resp *Response) bool
}

// USMSClassifier matches the signals observed on the live portal: a
// redirect through the SessionExpire page, or a page body carrying the
// session-expired banner.
type USMSClassifier struct{}

const expiredBanner = "Your Session Has Expired, Please Login Again."

func (USMSClassifier) Expired(resp *Response) bool {
	if resp == nil {
		return false
	}
	for _, hop := range resp.History {
		if strings.Contains(hop, "SessionExpire") {
			return true
		}
	}
	if strings.Contains(resp.FinalURL, "SessionExpire") {
		return true
	}
	return strings.Contains(string(resp.Body), expiredBanner)
}
