package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"stockroom/internal/models"
	"stockroom/internal/monitoring"
)

// Provider is the OAuth authorization server
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Revoke(ctx context.Context, token string) error
}

// Store persists the session across restarts
type Store interface {
	Load(ctx context.Context) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Clear(ctx context.Context) error
}

// Prober checks that the current access token is still accepted
type Prober interface {
	Probe(ctx context.Context) error
}

// Prompter shows the consent URL to the operator
type Prompter interface {
	Prompt(authURL string)
}

// PrompterFunc adapts a function to Prompter
type PrompterFunc func(authURL string)

func (f PrompterFunc) Prompt(authURL string) { f(authURL) }

// Options configures a Manager
type Options struct {
	Provider Provider
	Store    Store
	Prober   Prober
	Prompter Prompter
	Logger   *slog.Logger
	Metrics  *monitoring.Metrics

	TokenLifetime  time.Duration
	SignInTimeout  time.Duration
	RefreshTimeout time.Duration
	Now            func() time.Time
}

// attempt is one interactive sign-in waiting for its callback
type attempt struct {
	state   string
	url     string
	expired bool
	done    chan struct{}
	once    sync.Once
	err     error
}

func (a *attempt) resolve(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// Manager owns the OAuth session: sign-in, silent refresh, probing and sign-out.
// No lock is held across a network call.
type Manager struct {
	provider Provider
	store    Store
	prompter Prompter
	logger   *slog.Logger
	metrics  *monitoring.Metrics

	lifetime       time.Duration
	signInTimeout  time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	flight    singleflight.Group
	persistMu sync.Mutex

	mu         sync.Mutex
	prober     Prober
	session    *models.Session
	loaded     bool
	refreshing bool
	generation uint64
	pending    *attempt
}

// NewManager creates a signed-out manager; the persisted session is loaded lazily.
func NewManager(opts Options) (*Manager, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("session provider is required")
	}
	if opts.Prompter == nil {
		return nil, fmt.Errorf("session prompter is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TokenLifetime <= 0 {
		opts.TokenLifetime = time.Hour
	}
	if opts.SignInTimeout <= 0 {
		opts.SignInTimeout = 30 * time.Second
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 3 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		provider:       opts.Provider,
		store:          opts.Store,
		prober:         opts.Prober,
		prompter:       opts.Prompter,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		lifetime:       opts.TokenLifetime,
		signInTimeout:  opts.SignInTimeout,
		refreshTimeout: opts.RefreshTimeout,
		now:            opts.Now,
	}, nil
}

// SetProber installs the liveness check. The probe client itself authorizes through the
// manager, so it can only be attached after both exist.
func (m *Manager) SetProber(p Prober) {
	m.mu.Lock()
	m.prober = p
	m.mu.Unlock()
}

// EnsureSignedIn returns nil once a usable token is held, signing in interactively if the
// cached token cannot be validated or refreshed.
func (m *Manager) EnsureSignedIn(ctx context.Context) error {
	err := m.verify(ctx)
	if err == nil {
		return nil
	}
	var te *models.TransportError
	if errors.As(err, &te) && !te.Unauthorized() {
		return err
	}
	return m.SignIn(ctx)
}

// CheckSignedIn reports whether a usable token is held. A rejected or expired token gets one
// silent refresh.
func (m *Manager) CheckSignedIn(ctx context.Context) bool {
	return m.verify(ctx) == nil
}

func (m *Manager) verify(ctx context.Context) error {
	s := m.current(ctx)
	if s == nil {
		return &models.AuthError{Op: "check session", Err: models.ErrSignedOut}
	}
	if s.Valid(m.now(), m.lifetime) {
		err := m.probe(ctx)
		if err == nil {
			return nil
		}
		if !models.IsUnauthorized(err) {
			m.logger.Warn("session probe failed", "error", err)
			return err
		}
		m.logger.Info("access token rejected, refreshing")
	}
	return m.refresh(ctx)
}

func (m *Manager) probe(ctx context.Context) error {
	m.mu.Lock()
	p := m.prober
	m.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Probe(ctx)
}

// SignIn runs the interactive consent flow. Concurrent callers share one attempt.
func (m *Manager) SignIn(ctx context.Context) error {
	ch := m.flight.DoChan("sign-in", func() (interface{}, error) {
		return nil, m.interactive()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return &models.AuthError{Op: "sign in", Err: ctx.Err()}
	}
}

func (m *Manager) interactive() error {
	state := uuid.NewString()
	a := &attempt{state: state, url: m.provider.AuthCodeURL(state), done: make(chan struct{})}

	m.mu.Lock()
	if old := m.pending; old != nil {
		old.resolve(&models.AuthError{Op: "sign in", Err: models.ErrSignInTimeout})
	}
	m.pending = a
	m.mu.Unlock()

	m.logger.Info("waiting for sign in", "url", a.url, "timeout", m.signInTimeout)
	m.prompter.Prompt(a.url)

	timer := time.NewTimer(m.signInTimeout)
	defer timer.Stop()
	select {
	case <-a.done:
		return a.err
	case <-timer.C:
		// the attempt stays registered so a late callback can still complete it
		m.mu.Lock()
		a.expired = true
		m.mu.Unlock()
		m.metrics.SessionEvent("sign_in_timeout")
		return &models.AuthError{Op: "sign in", Err: models.ErrSignInTimeout}
	}
}

// CompleteSignIn finishes the attempt identified by state with the provider's callback result.
func (m *Manager) CompleteSignIn(ctx context.Context, state, code, providerErr string) error {
	m.mu.Lock()
	a := m.pending
	gen := m.generation
	m.mu.Unlock()
	if a == nil || state == "" || a.state != state {
		return &models.AuthError{Op: "sign in callback", Err: models.ErrUnknownState}
	}

	if providerErr != "" {
		err := &models.AuthError{Op: "sign in", Err: fmt.Errorf("provider returned %s", providerErr)}
		m.finish(a, err)
		m.metrics.SessionEvent("sign_in_failed")
		return err
	}
	if code == "" {
		err := &models.AuthError{Op: "sign in", Err: errors.New("missing authorization code")}
		m.finish(a, err)
		m.metrics.SessionEvent("sign_in_failed")
		return err
	}

	tok, err := m.provider.Exchange(ctx, code)
	if err != nil {
		aerr := &models.AuthError{Op: "sign in", Err: err}
		m.finish(a, aerr)
		m.metrics.SessionEvent("sign_in_failed")
		return aerr
	}

	// a sign-out during the exchange withdraws the attempt and bumps the generation
	m.mu.Lock()
	current := m.pending == a
	m.mu.Unlock()
	if !current || !m.adopt(ctx, tok, "", gen) {
		err := &models.AuthError{Op: "sign in", Err: models.ErrSignedOut}
		m.finish(a, err)
		m.metrics.SessionEvent("sign_in_discarded")
		return err
	}
	m.finish(a, nil)
	m.metrics.SessionEvent("sign_in")
	m.logger.Info("signed in", "account", AccountFromToken(tok))
	return nil
}

func (m *Manager) finish(a *attempt, err error) {
	m.mu.Lock()
	if m.pending == a {
		m.pending = nil
	}
	m.mu.Unlock()
	a.resolve(err)
}

// refresh exchanges the refresh token for a new access token, clearing the session on failure.
func (m *Manager) refresh(ctx context.Context) error {
	_, err, _ := m.flight.Do("refresh", func() (interface{}, error) {
		m.mu.Lock()
		s := m.session
		if s == nil {
			m.mu.Unlock()
			return nil, &models.AuthError{Op: "refresh", Err: models.ErrSignedOut}
		}
		rt := s.RefreshToken
		gen := m.generation
		if rt == "" {
			m.mu.Unlock()
			m.clear(ctx)
			return nil, &models.AuthError{Op: "refresh", Err: models.ErrConsentRequired}
		}
		m.refreshing = true
		m.mu.Unlock()

		rctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
		defer cancel()
		tok, err := m.provider.Refresh(rctx, rt)

		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()

		if err != nil {
			m.logger.Warn("silent refresh failed", "error", err)
			m.metrics.SessionEvent("refresh_failed")
			m.clear(ctx)
			return nil, &models.AuthError{Op: "refresh", Err: err}
		}
		if !m.adopt(ctx, tok, rt, gen) {
			return nil, &models.AuthError{Op: "refresh", Err: models.ErrSignedOut}
		}
		m.metrics.SessionEvent("refresh")
		return nil, nil
	})
	return err
}

// adopt installs and persists tok unless a sign-out happened since gen was read.
// persistMu keeps the generation check and the save atomic with respect to clear.
func (m *Manager) adopt(ctx context.Context, tok *oauth2.Token, previousRefresh string, gen uint64) bool {
	s := &models.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Account:      AccountFromToken(tok),
		IssuedAt:     m.now(),
	}
	if s.RefreshToken == "" {
		s.RefreshToken = previousRefresh
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return false
	}
	if s.Account == "" && m.session != nil {
		s.Account = m.session.Account
	}
	m.session = s
	m.loaded = true
	saved := *s
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Save(ctx, &saved); err != nil {
			m.logger.Warn("failed to persist session", "error", err)
		}
	}
	return true
}

// SignOut revokes the grant when one is held and always clears the session.
// Only a failure to clear persisted state is returned.
func (m *Manager) SignOut(ctx context.Context) error {
	if s := m.current(ctx); s != nil {
		token := s.RefreshToken
		if token == "" {
			token = s.AccessToken
		}
		if token != "" {
			if err := m.provider.Revoke(ctx, token); err != nil {
				m.logger.Warn("failed to revoke token", "error", err)
			}
		}
	}

	err := m.clear(ctx)

	m.mu.Lock()
	a := m.pending
	m.pending = nil
	m.mu.Unlock()
	if a != nil {
		a.resolve(&models.AuthError{Op: "sign in", Err: models.ErrSignedOut})
	}

	m.metrics.SessionEvent("sign_out")
	return err
}

func (m *Manager) clear(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	m.session = nil
	m.loaded = true
	m.generation++
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear persisted session", "error", err)
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// current returns a copy of the session, loading the persisted one on first use.
func (m *Manager) current(ctx context.Context) *models.Session {
	m.mu.Lock()
	if m.session != nil || m.loaded || m.store == nil {
		s := m.session
		m.mu.Unlock()
		return copySession(s)
	}
	m.mu.Unlock()

	loaded, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("failed to load persisted session", "error", err)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded && m.session == nil {
		m.session = loaded
		m.loaded = true
	}
	return copySession(m.session)
}

func copySession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Invalidate drops the access token after the API rejected it; the refresh token is kept.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil && m.session.AccessToken != "" {
		m.session.AccessToken = ""
		m.metrics.SessionEvent("invalidated")
	}
}

// Token implements oauth2.TokenSource for the API client.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.AccessToken == "" {
		return nil, models.ErrSignedOut
	}
	return &oauth2.Token{
		AccessToken: m.session.AccessToken,
		TokenType:   "Bearer",
		Expiry:      m.session.IssuedAt.Add(m.lifetime),
	}, nil
}

// Status reports the current state without touching the network.
func (m *Manager) Status() models.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := models.SessionStatus{State: models.StateSignedOut}
	switch {
	case m.refreshing:
		status.State = models.StateRefreshing
	case m.session.Valid(m.now(), m.lifetime):
		status.State = models.StateSignedIn
	}
	if m.session != nil {
		status.Account = m.session.Account
		issued := m.session.IssuedAt
		status.IssuedAt = &issued
	}
	if m.pending != nil && !m.pending.expired {
		status.PendingURL = m.pending.url
	}
	return status
}
