// Package usms is a client for the USMS smart-meter web portal. It logs
// in with account credentials, discovers the meters registered under the
// account, and retrieves instantaneous readings and hourly/daily
// consumption history through a freshness cache.
//
// Every operation exists in two forms sharing one behavioral core: the
// blocking methods on Account and Meter, and the cooperative methods on
// AsyncAccount and AsyncMeter which interleave on a single scheduler
// goroutine and yield at I/O boundaries.
package usms

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/smartmeterbn/usms/internal/cache"
	"github.com/smartmeterbn/usms/internal/pipeline"
	"github.com/smartmeterbn/usms/internal/portal"
	"github.com/smartmeterbn/usms/internal/session"
	"github.com/smartmeterbn/usms/internal/transport"
	"github.com/smartmeterbn/usms/pkg/models"
	"github.com/smartmeterbn/usms/usmserr"
)

// Account is the blocking façade over one portal account. It owns the
// session, the freshness cache, and the meters discovered at
// initialization. An Account is not safe for concurrent use from
// multiple goroutines; use the cooperative façade for interleaved
// operations on one client.
type Account struct {
	opts    options
	session *session.Manager
	cache   *cache.Store
	logger  *logrus.Logger

	mu          sync.Mutex
	initialized bool
	info        models.AccountInfo
	meters      []*Meter

	asyncOnce sync.Once
	async     *AsyncAccount
}

// NewAccount builds an account client for the given credentials. No
// network traffic happens until Initialize.
func NewAccount(username, password string, opts ...Option) (*Account, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	client, err := transport.New(transport.Options{
		BaseURL:   o.baseURL,
		Timeout:   o.timeout,
		TLSConfig: o.tlsConfig,
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("building transport: %w", err)
	}

	store, err := cache.New(o.seriesCacheSize)
	if err != nil {
		return nil, fmt.Errorf("building cache: %w", err)
	}

	creds := session.Credentials{Username: username, Password: password}
	return &Account{
		opts:    o,
		session: session.NewManager(client, creds, o.classifier, o.logger),
		cache:   store,
		logger:  o.logger,
	}, nil
}

// Initialize logs in and discovers the account's meters. It must be
// called before any data method; calling data methods earlier fails
// with NotInitializedError.
func (a *Account) Initialize(ctx context.Context) error {
	return pipeline.Run(ctx, a.initializeOp())
}

// initializeOp is the shared login-and-discover sequence: authenticate,
// fetch account info, fetch each meter's info, then commit everything in
// the final step so a cancelled initialization leaves no partial state.
func (a *Account) initializeOp() pipeline.Sequence {
	var (
		info  models.AccountInfo
		infos []models.MeterInfo
		nodes []string
	)

	steps := []pipeline.Step{
		{Name: "login", Run: a.session.Initialize},
		{Name: "fetch account info", Run: func(ctx context.Context) error {
			resp, err := a.session.Get(ctx, portal.AccountInfoPath)
			if err != nil {
				return err
			}
			info, err = portal.ParseAccountInfo(resp.Body)
			if err != nil {
				return err
			}
			nodes = info.MeterNodes
			return nil
		}},
		{Name: "fetch meters", Run: func(ctx context.Context) error {
			for _, node := range nodes {
				mi, err := fetchMeterInfo(ctx, a.session, node)
				if err != nil {
					return err
				}
				infos = append(infos, mi)
			}
			return nil
		}},
		{Name: "commit", Run: func(ctx context.Context) error {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.info = info
			a.meters = a.meters[:0]
			for i, mi := range infos {
				m := &Meter{account: a, nodeNo: nodes[i]}
				m.commitInfo(mi)
				a.meters = append(a.meters, m)
			}
			a.initialized = true
			a.logger.WithFields(logrus.Fields{
				"username": info.Name,
				"meters":   len(a.meters),
			}).Info("account initialized")
			return nil
		}},
	}
	return pipeline.Sequence{Name: "initialize", Steps: steps}
}

// fetchMeterInfo loads one meter's info panel via the account info
// page's tree postback.
func fetchMeterInfo(ctx context.Context, s *session.Manager, nodeNo string) (models.MeterInfo, error) {
	if _, err := s.Get(ctx, portal.AccountInfoPath); err != nil {
		return models.MeterInfo{}, err
	}
	resp, err := s.PostForm(ctx, portal.AccountInfoPath, portal.MeterNodeForm(nodeNo))
	if err != nil {
		return models.MeterInfo{}, err
	}
	return portal.ParseMeterInfo(resp.Body)
}

func (a *Account) guard(op string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return &usmserr.NotInitializedError{Op: op}
	}
	return nil
}

// Info returns the account details fetched at initialization.
func (a *Account) Info() (models.AccountInfo, error) {
	if err := a.guard("account info"); err != nil {
		return models.AccountInfo{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info, nil
}

// Meters returns the meters registered under the account.
func (a *Account) Meters() ([]*Meter, error) {
	if err := a.guard("list meters"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Meter(nil), a.meters...), nil
}

// Meter finds a meter by its meter number.
func (a *Account) Meter(no string) (*Meter, error) {
	meters, err := a.Meters()
	if err != nil {
		return nil, err
	}
	for _, m := range meters {
		if m.No() == no {
			return m, nil
		}
	}
	return nil, fmt.Errorf("meter %s not found", no)
}

// IsAuthenticated probes the portal session without triggering the
// automatic recovery logic.
func (a *Account) IsAuthenticated(ctx context.Context) bool {
	return a.session.IsAuthenticated(ctx)
}

// Logout ends the session. The account becomes terminal; all subsequent
// operations fail with NotInitializedError.
func (a *Account) Logout(ctx context.Context) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	a.initialized = false
	a.mu.Unlock()
	return nil
}

// Async returns the cooperative façade sharing this account's session
// and cache. The same AsyncAccount is returned on every call.
func (a *Account) Async() *AsyncAccount {
	a.asyncOnce.Do(func() {
		a.async = &AsyncAccount{
			account: a,
			sched:   pipeline.NewScheduler(a.logger),
		}
	})
	return a.async
}

// Close stops the cooperative scheduler, if one was started.
func (a *Account) Close() {
	if a.async != nil {
		a.async.sched.Close()
	}
}
