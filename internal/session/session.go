// Package session owns the portal session lifecycle: the authentication
// state machine, the ASP.NET login flow, and the single automatic
// recovery from a lazily detected session expiry.
package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartmeterbn/usms/internal/portal"
	"github.com/smartmeterbn/usms/internal/transport"
	"github.com/smartmeterbn/usms/usmserr"
)

// State is the session lifecycle state.
type State int

const (
	Uninitialized State = iota
	Authenticating
	Authenticated
	Expired
	// LoggedOut is terminal: a logged-out manager never re-authenticates.
	LoggedOut
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	case LoggedOut:
		return "logged out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Credentials are the portal login credentials.
type Credentials struct {
	Username string
	Password string
}

// Manager drives the session state machine:
//
//	Uninitialized -> Authenticating -> Authenticated
//	Authenticated -> Expired -> Authenticating   (lazy detection, one retry)
//	Authenticated -> LoggedOut                   (terminal)
//
// Expiry is detected lazily from response signals via the classifier; a
// request that trips it gets exactly one re-authentication and one
// retry before the failure surfaces.
type Manager struct {
	mu         sync.Mutex
	state      State
	lastAuth   time.Time
	aspState   map[string]string
	creds      Credentials
	client     *transport.Client
	classifier transport.Classifier
	logger     *logrus.Logger
}

// NewManager builds an uninitialized session manager.
func NewManager(client *transport.Client, creds Credentials, classifier transport.Classifier, logger *logrus.Logger) *Manager {
	if classifier == nil {
		classifier = transport.USMSClassifier{}
	}
	return &Manager{
		state:      Uninitialized,
		aspState:   make(map[string]string),
		creds:      creds,
		client:     client,
		classifier: classifier,
		logger:     logger,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastAuth returns the time of the last successful authentication.
func (m *Manager) LastAuth() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth
}

// Initialize performs the initial login. Rejected credentials surface as
// AuthenticationError; an unreachable portal as NetworkError.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state == LoggedOut {
		m.mu.Unlock()
		return &usmserr.NotInitializedError{Op: "initialize"}
	}
	m.mu.Unlock()

	return m.authenticate(ctx)
}

// EnsureValid guards an authenticated operation. On an uninitialized or
// logged-out manager it fails with NotInitializedError. On an expired
// session it performs a single re-authentication; if that fails, the
// failure surfaces as SessionExpiredError rather than retrying again.
func (m *Manager) EnsureValid(ctx context.Context) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch state {
	case Uninitialized, LoggedOut:
		return &usmserr.NotInitializedError{Op: "ensure valid session"}
	case Expired:
		if err := m.authenticate(ctx); err != nil {
			return &usmserr.SessionExpiredError{Err: err}
		}
	}
	return nil
}

// Get issues an authenticated GET with one transparent expiry recovery.
func (m *Manager) Get(ctx context.Context, path string) (*transport.Response, error) {
	return m.request(ctx, path, nil)
}

// PostForm issues an authenticated POST. The session's accumulated
// ASP.NET hidden-field state is injected under any explicit form values.
func (m *Manager) PostForm(ctx context.Context, path string, form url.Values) (*transport.Response, error) {
	if form == nil {
		form = url.Values{}
	}
	return m.request(ctx, path, form)
}

func (m *Manager) request(ctx context.Context, path string, form url.Values) (*transport.Response, error) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == Uninitialized || state == LoggedOut {
		return nil, &usmserr.NotInitializedError{Op: "request " + path}
	}

	resp, err := m.send(ctx, path, form)
	if err != nil {
		return nil, err
	}
	if !m.classifier.Expired(resp) {
		m.absorbASPState(resp)
		return resp, nil
	}

	// Lazy expiry detection: exactly one re-authentication, one retry.
	m.logger.WithField("path", path).Debug("session expired, re-authenticating")
	m.setState(Expired)
	if err := m.authenticate(ctx); err != nil {
		return nil, &usmserr.SessionExpiredError{Err: err}
	}

	resp, err = m.send(ctx, path, form)
	if err != nil {
		return nil, err
	}
	if m.classifier.Expired(resp) {
		m.setState(Expired)
		return nil, &usmserr.SessionExpiredError{}
	}
	m.absorbASPState(resp)
	return resp, nil
}

func (m *Manager) send(ctx context.Context, path string, form url.Values) (*transport.Response, error) {
	if form == nil {
		return m.client.Get(ctx, path)
	}
	return m.client.PostForm(ctx, path, m.injectASPState(form))
}

// authenticate runs the portal's login flow: fetch the login page for
// its hidden state, post the credentials, then confirm the session via
// the Sig token from the redirect chain.
func (m *Manager) authenticate(ctx context.Context) (err error) {
	m.mu.Lock()
	prev := m.state
	m.state = Authenticating
	m.mu.Unlock()

	defer func() {
		if err == nil {
			return
		}
		// A failed or cancelled re-authentication must not park the
		// manager in Authenticating: an initialized session reverts to
		// Expired so a later call retries cleanly.
		if prev == Uninitialized {
			m.setState(Uninitialized)
		} else {
			m.setState(Expired)
		}
	}()

	m.logger.WithField("username", m.creds.Username).Debug("executing authentication flow")

	resp, err := m.client.Get(ctx, portal.LoginPath)
	if err != nil {
		return err
	}
	form := portal.LoginForm(portal.HiddenFields(resp.Body), m.creds.Username, m.creds.Password)

	resp, err = m.client.PostForm(ctx, portal.LoginPath, form)
	if err != nil {
		return err
	}

	if msg := portal.ParseLoginError(resp.Body); msg != "" {
		return &usmserr.AuthenticationError{Reason: msg}
	}
	sig := portal.SigFromHistory(append(resp.History, resp.FinalURL))
	if sig == "" {
		return &usmserr.AuthenticationError{Reason: "login not accepted by portal"}
	}

	resp, err = m.client.Get(ctx, portal.SessionQuery(m.creds.Username, sig))
	if err != nil {
		return err
	}
	m.absorbASPState(resp)

	m.mu.Lock()
	m.state = Authenticated
	m.lastAuth = time.Now()
	m.mu.Unlock()

	m.logger.WithField("username", m.creds.Username).Debug("authentication flow complete")
	return nil
}

// IsAuthenticated probes the portal without triggering the recovery
// logic. Network failures count as not authenticated.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state != Authenticated && state != Expired {
		return false
	}

	resp, err := m.client.Get(ctx, portal.AccountInfoPath)
	if err != nil {
		m.logger.WithError(err).Warn("authentication probe failed")
		return false
	}
	return !m.classifier.Expired(resp)
}

// Logout ends the session. The manager becomes terminal; subsequent
// operations fail with NotInitializedError.
func (m *Manager) Logout(ctx context.Context) error {
	if _, err := m.client.Get(ctx, portal.LoginPath); err != nil {
		return err
	}
	m.client.ClearCookies()
	m.setState(LoggedOut)
	return nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) absorbASPState(resp *transport.Response) {
	fields := portal.HiddenFields(resp.Body)
	if len(fields) == 0 {
		return
	}
	m.mu.Lock()
	for k, v := range fields {
		m.aspState[k] = v
	}
	m.mu.Unlock()
}

func (m *Manager) injectASPState(form url.Values) url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.aspState {
		if _, ok := form[k]; !ok {
			form.Set(k, v)
		}
	}
	return form
}
