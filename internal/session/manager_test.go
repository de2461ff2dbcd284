package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"stockroom/internal/models"
	"stockroom/internal/monitoring"
)

type fakeProvider struct {
	mu         sync.Mutex
	exchanges  int
	refreshes  int
	revoked    []string
	refreshErr error
	revokeErr  error
	exchangeFn func(code string) (*oauth2.Token, error)
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://consent.test/auth?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	p.mu.Lock()
	p.exchanges++
	fn := p.exchangeFn
	p.mu.Unlock()
	if fn != nil {
		return fn(code)
	}
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return &oauth2.Token{AccessToken: "refreshed"}, nil
}

func (p *fakeProvider) Revoke(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, token)
	return p.revokeErr
}

type memStore struct {
	mu      sync.Mutex
	session *models.Session
	saves   int
	clears  int
}

func (s *memStore) Load(context.Context) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, nil
	}
	c := *s.session
	return &c, nil
}

func (s *memStore) Save(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sess
	s.session = &c
	s.saves++
	return nil
}

func (s *memStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.clears++
	return nil
}

type fakeProber struct {
	calls atomic.Int32
	err   error
}

func (p *fakeProber) Probe(context.Context) error {
	p.calls.Add(1)
	return p.err
}

type recordingPrompter struct {
	mu   sync.Mutex
	urls []string
	hook func(authURL string)
}

func (p *recordingPrompter) Prompt(authURL string) {
	p.mu.Lock()
	p.urls = append(p.urls, authURL)
	hook := p.hook
	p.mu.Unlock()
	if hook != nil {
		hook(authURL)
	}
}

func (p *recordingPrompter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.urls)
}

func stateOf(t *testing.T, authURL string) string {
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

type fixture struct {
	mgr      *Manager
	provider *fakeProvider
	store    *memStore
	prober   *fakeProber
	prompter *recordingPrompter
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		provider: &fakeProvider{},
		store:    &memStore{},
		prober:   &fakeProber{},
		prompter: &recordingPrompter{},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	mgr, err := NewManager(Options{
		Provider:       f.provider,
		Store:          f.store,
		Prober:         f.prober,
		Prompter:       f.prompter,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:        monitoring.NewMetrics(),
		SignInTimeout:  200 * time.Millisecond,
		RefreshTimeout: time.Second,
		Now:            func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

func (f *fixture) persist(s models.Session) {
	f.store.session = &s
}

func TestCheckSignedIn_NoSession(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.mgr.CheckSignedIn(context.Background()))
	assert.Equal(t, models.StateSignedOut, f.mgr.Status().State)
	assert.Equal(t, 0, f.provider.refreshes)
}

func TestCheckSignedIn_CachedValidToken(t *testing.T) {
	f := newFixture(t)
	f.persist(models.Session{AccessToken: "tok", RefreshToken: "rt", IssuedAt: f.now.Add(-10 * time.Minute)})

	assert.True(t, f.mgr.CheckSignedIn(context.Background()))
	assert.Equal(t, int32(1), f.prober.calls.Load())
	assert.Equal(t, 0, f.provider.refreshes)

	tok, err := f.mgr.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)
	assert.Equal(t, models.StateSignedIn, f.mgr.Status().State)
}

func TestCheckSignedIn_RejectedTokenRefreshesOnce(t *testing.T) {
	f := newFixture(t)
	f.persist(models.Session{AccessToken: "stale", RefreshToken: "rt", Account: "ops@example.com", IssuedAt: f.now})
	f.prober.err = &models.TransportError{Op: "spreadsheets.get", Status: 401, Err: errors.New("unauthorized")}

	assert.True(t, f.mgr.CheckSignedIn(context.Background()))
	assert.Equal(t, 1, f.provider.refreshes)

	tok, err := f.mgr.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok.AccessToken)
	assert.Equal(t, "rt", f.store.session.RefreshToken)
	assert.Equal(t, "ops@example.com", f.store.session.Account)
}

func TestCheckSignedIn_ExpiredTokenRefreshes(t *testing.T) {
	f := newFixture(t)
	f.persist(models.Session{AccessToken: "old", RefreshToken: "rt", IssuedAt: f.now.Add(-2 * time.Hour)})

	assert.True(t, f.mgr.CheckSignedIn(context.Background()))
	assert.Equal(t, 1, f.provider.refreshes)
	assert.Equal(t, int32(0), f.prober.calls.Load())
	assert.Equal(t, f.now, f.store.session.IssuedAt)
}

func TestCheckSignedIn_RefreshFailureClears(t *testing.T) {
	f := newFixture(t)
	f.persist(models.Session{AccessToken: "old", RefreshToken: "rt", IssuedAt: f.now.Add(-2 * time.Hour)})
	f.provider.refreshErr = errors.New("invalid_grant")

	assert.False(t, f.mgr.CheckSignedIn(context.Background()))
	assert.Nil(t, f.store.session)
	_, err := f.mgr.Token()
	assert.ErrorIs(t, err, models.ErrSignedOut)
	assert.Equal(t, 1, f.provider.refreshes)
}

func TestCheckSignedIn_NoRefreshTokenNeedsConsent(t *testing.T) {
	f := newFixture(t)
	f.persist(models.Session{AccessToken: "old", IssuedAt: f.now.Add(-2 * time.Hour)})

	err := f.mgr.verify(context.Background())
	assert.ErrorIs(t, err, models.ErrConsentRequired)
	assert.Equal(t, 0, f.provider.refreshes)
}

func TestCheckSignedIn_ProbeOutageKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.persist(models.Session{AccessToken: "tok", RefreshToken: "rt", IssuedAt: f.now})
	f.prober.err = &models.TransportError{Op: "spreadsheets.get", Status: 503, Err: errors.New("unavailable")}

	assert.False(t, f.mgr.CheckSignedIn(context.Background()))
	assert.Equal(t, 0, f.provider.refreshes)
	assert.NotNil(t, f.store.session)

	err := f.mgr.EnsureSignedIn(context.Background())
	var te *models.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, f.prompter.count())
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	f := newFixture(t)
	f.persist(models.Session{AccessToken: "tok", RefreshToken: "rt", IssuedAt: f.now})
	require.True(t, f.mgr.CheckSignedIn(context.Background()))

	f.mgr.Invalidate()
	_, err := f.mgr.Token()
	assert.ErrorIs(t, err, models.ErrSignedOut)

	require.NoError(t, f.mgr.EnsureSignedIn(context.Background()))
	assert.Equal(t, 1, f.provider.refreshes)
}

func TestSignIn_CallbackCompletes(t *testing.T) {
	f := newFixture(t)
	f.prompter.hook = func(authURL string) {
		go func() {
			assert.Equal(t, authURL, f.mgr.Status().PendingURL)
			assert.NoError(t, f.mgr.CompleteSignIn(context.Background(), stateOf(t, authURL), "code1", ""))
		}()
	}

	require.NoError(t, f.mgr.SignIn(context.Background()))

	tok, err := f.mgr.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-code1", tok.AccessToken)
	assert.Equal(t, "refresh-code1", f.store.session.RefreshToken)
	status := f.mgr.Status()
	assert.Equal(t, models.StateSignedIn, status.State)
	assert.Empty(t, status.PendingURL)
}

func TestSignIn_Timeout(t *testing.T) {
	f := newFixture(t)

	err := f.mgr.SignIn(context.Background())
	var ae *models.AuthError
	require.ErrorAs(t, err, &ae)
	assert.ErrorIs(t, err, models.ErrSignInTimeout)
	assert.Empty(t, f.mgr.Status().PendingURL)
}

func TestSignIn_LateCallbackStillSignsIn(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.mgr.SignIn(context.Background()), models.ErrSignInTimeout)
	require.Equal(t, 1, f.prompter.count())

	require.NoError(t, f.mgr.CompleteSignIn(context.Background(), stateOf(t, f.prompter.urls[0]), "late", ""))
	assert.Equal(t, models.StateSignedIn, f.mgr.Status().State)
}

func TestSignIn_ConcurrentCallersShareAttempt(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.prompter.hook = func(authURL string) {
		go func() {
			<-release
			_ = f.mgr.CompleteSignIn(context.Background(), stateOf(t, authURL), "shared", "")
		}()
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.mgr.SignIn(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool { return f.mgr.Status().PendingURL != "" }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.prompter.count())
	assert.Equal(t, 1, f.provider.exchanges)
}

func TestSignIn_ProviderError(t *testing.T) {
	f := newFixture(t)
	f.prompter.hook = func(authURL string) {
		go func() {
			_ = f.mgr.CompleteSignIn(context.Background(), stateOf(t, authURL), "", "access_denied")
		}()
	}

	err := f.mgr.SignIn(context.Background())
	var ae *models.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, err.Error(), "access_denied")
	assert.Equal(t, 0, f.provider.exchanges)
	assert.Equal(t, models.StateSignedOut, f.mgr.Status().State)
}

func TestCompleteSignIn_UnknownState(t *testing.T) {
	f := newFixture(t)

	err := f.mgr.CompleteSignIn(context.Background(), "forged", "code", "")
	assert.ErrorIs(t, err, models.ErrUnknownState)
	assert.Equal(t, 0, f.provider.exchanges)
}

func TestEnsureSignedIn_FallsBackToInteractive(t *testing.T) {
	f := newFixture(t)
	f.prompter.hook = func(authURL string) {
		go func() {
			_ = f.mgr.CompleteSignIn(context.Background(), stateOf(t, authURL), "fresh", "")
		}()
	}

	require.NoError(t, f.mgr.EnsureSignedIn(context.Background()))
	assert.Equal(t, 1, f.prompter.count())

	require.NoError(t, f.mgr.EnsureSignedIn(context.Background()))
	assert.Equal(t, 1, f.prompter.count())
}

func TestSignOut_RevokesAndClears(t *testing.T) {
	f := newFixture(t)
	f.persist(models.Session{AccessToken: "tok", RefreshToken: "rt", IssuedAt: f.now})

	require.NoError(t, f.mgr.SignOut(context.Background()))

	assert.Equal(t, []string{"rt"}, f.provider.revoked)
	assert.Nil(t, f.store.session)
	assert.False(t, f.mgr.CheckSignedIn(context.Background()))
}

func TestSignOut_RevokeFailureStillClears(t *testing.T) {
	f := newFixture(t)
	f.persist(models.Session{AccessToken: "tok", IssuedAt: f.now})
	f.provider.revokeErr = errors.New("network down")

	require.NoError(t, f.mgr.SignOut(context.Background()))

	assert.Equal(t, []string{"tok"}, f.provider.revoked)
	assert.Nil(t, f.store.session)
	assert.Equal(t, models.StateSignedOut, f.mgr.Status().State)
}

func TestSignOut_AbortsPendingSignIn(t *testing.T) {
	f := newFixture(t)
	f.prompter.hook = func(string) {
		go func() { _ = f.mgr.SignOut(context.Background()) }()
	}

	err := f.mgr.SignIn(context.Background())
	assert.ErrorIs(t, err, models.ErrSignedOut)
}

func TestSignOut_DuringCodeExchangeStaysSignedOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	f.provider.exchangeFn = func(code string) (*oauth2.Token, error) {
		close(entered)
		<-release
		return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
	}
	callback := make(chan error, 1)
	f.prompter.hook = func(authURL string) {
		go func() { callback <- f.mgr.CompleteSignIn(ctx, stateOf(t, authURL), "c", "") }()
	}
	signIn := make(chan error, 1)
	go func() { signIn <- f.mgr.SignIn(ctx) }()

	<-entered
	require.NoError(t, f.mgr.SignOut(ctx))
	close(release)

	assert.ErrorIs(t, <-callback, models.ErrSignedOut)
	assert.ErrorIs(t, <-signIn, models.ErrSignedOut)

	_, err := f.mgr.Token()
	assert.ErrorIs(t, err, models.ErrSignedOut)
	persisted, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, persisted)
	assert.Equal(t, models.StateSignedOut, f.mgr.Status().State)
}

func TestNewManager_RequiresProviderAndPrompter(t *testing.T) {
	_, err := NewManager(Options{Prompter: PrompterFunc(func(string) {})})
	assert.Error(t, err)
	_, err = NewManager(Options{Provider: &fakeProvider{}})
	assert.Error(t, err)
}
