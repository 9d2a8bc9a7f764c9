package usms

import (
	"crypto/tls"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartmeterbn/usms/internal/portal"
	"github.com/smartmeterbn/usms/internal/transport"
)

// Defaults match the cadence of the live portal: meter data is updated
// roughly hourly, and refresh attempts are spaced at least 15 minutes
// apart.
const (
	DefaultRefreshInterval = 60 * time.Minute
	DefaultCheckInterval   = 15 * time.Minute
	DefaultTimeout         = 30 * time.Second

	// DefaultSettledAfter is how old a consumption window must be before
	// it is considered settled on the portal and never refetched.
	DefaultSettledAfter = 72 * time.Hour
)

type options struct {
	baseURL         string
	timeout         time.Duration
	tlsConfig       *tls.Config
	refreshInterval time.Duration
	checkInterval   time.Duration
	settledAfter    time.Duration
	seriesCacheSize int
	classifier      transport.Classifier
	logger          *logrus.Logger
}

// Option configures an Account.
type Option func(*options)

func defaultOptions() options {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return options{
		baseURL:         portal.DefaultBaseURL,
		timeout:         DefaultTimeout,
		refreshInterval: DefaultRefreshInterval,
		checkInterval:   DefaultCheckInterval,
		settledAfter:    DefaultSettledAfter,
		classifier:      transport.USMSClassifier{},
		logger:          logger,
	}
}

// WithBaseURL overrides the portal base URL. Used for testing against a
// fake portal.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithTimeout bounds every portal request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithTLSConfig overrides the TLS context used for portal connections.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithIntervals sets the full-reload cadence and the cheap
// staleness-check cadence. Zero values keep the defaults.
func WithIntervals(refresh, check time.Duration) Option {
	return func(o *options) {
		if refresh > 0 {
			o.refreshInterval = refresh
		}
		if check > 0 {
			o.checkInterval = check
		}
	}
}

// WithSettledAfter sets how old a consumption window must be before it
// is served from cache without ever refetching.
func WithSettledAfter(d time.Duration) Option {
	return func(o *options) { o.settledAfter = d }
}

// WithSeriesCacheSize bounds the in-memory consumption series cache.
func WithSeriesCacheSize(n int) Option {
	return func(o *options) { o.seriesCacheSize = n }
}

// ExpiryClassifier decides whether a portal response means the session
// has expired. The portal's expiry signal is brittle and page-specific,
// so deployments that observe a different signal can plug their own
// matcher instead of relying on the built-in one.
type ExpiryClassifier interface {
	Expired(status int, finalURL string, redirects []string, body []byte) bool
}

type classifierAdapter struct {
	c ExpiryClassifier
}

func (a classifierAdapter) Expired(resp *transport.Response) bool {
	if resp == nil {
		return false
	}
	return a.c.Expired(resp.StatusCode, resp.FinalURL, resp.History, resp.Body)
}

// WithClassifier replaces the session-expiry classifier.
func WithClassifier(c ExpiryClassifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = classifierAdapter{c: c}
		}
	}
}

// WithLogger routes the client's structured logs to the given logger.
// The default discards everything.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
