package coordinator

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/dgellow/auth-front/internal/backend"
	"github.com/dgellow/auth-front/internal/crypto"
	"github.com/dgellow/auth-front/internal/ledger"
	"github.com/dgellow/auth-front/internal/provider"
	"github.com/dgellow/auth-front/internal/redirect"
	"github.com/dgellow/auth-front/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeProvider implements provider.Provider around a real dispatcher.
type fakeProvider struct {
	dispatcher *provider.Dispatcher
	user       provider.User
	otpCalls   []string
	verifyErr  error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{dispatcher: provider.NewDispatcher()}
}

func (f *fakeProvider) Type() string { return "fake" }

func (f *fakeProvider) SignInWithOTP(_ context.Context, email, _ string) error {
	f.otpCalls = append(f.otpCalls, email)
	return nil
}

func (f *fakeProvider) VerifyOTP(_ context.Context, email, _ string) (*provider.Session, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	session := sessionWithUser("verified-token", f.user)
	f.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})
	return session, nil
}

func (f *fakeProvider) OAuthURL(oauthProvider, redirectTo string) (string, error) {
	return "https://idp.example/authorize?provider=" + oauthProvider, nil
}

func (f *fakeProvider) UserFromToken(context.Context, string) (*provider.User, error) {
	return &f.user, nil
}

func (f *fakeProvider) OnAuthStateChange(handler func(provider.Event)) *provider.Subscription {
	return f.dispatcher.Subscribe(handler)
}

type fakeBackend struct {
	calls int
	err   error
}

func (f *fakeBackend) ExchangeSession(context.Context, string) error {
	f.calls++
	return f.err
}

type fakeNavigator struct {
	targets []string
}

func (f *fakeNavigator) Navigate(target string) {
	f.targets = append(f.targets, target)
}

type fakeNotifier struct {
	errors []string
}

func (f *fakeNotifier) ShowError(message string) {
	f.errors = append(f.errors, message)
}

func sessionWithUser(token string, user provider.User) *provider.Session {
	return &provider.Session{
		Token: &oauth2.Token{AccessToken: token, TokenType: "bearer"},
		User:  user,
	}
}

type fixture struct {
	provider *fakeProvider
	backend  *fakeBackend
	nav      *fakeNavigator
	notifier *fakeNotifier
	store    *storage.MemoryStore
	coord    *Coordinator
}

// newFixture builds a coordinator on an auth page at /login/ whose user
// arrived from /pricing/. The fixed clock is 2026-08-31 noon UTC.
func newFixture(t *testing.T, pageURL string) *fixture {
	t.Helper()

	loc, err := url.Parse(pageURL)
	require.NoError(t, err)

	f := &fixture{
		provider: newFakeProvider(),
		backend:  &fakeBackend{},
		nav:      &fakeNavigator{},
		notifier: &fakeNotifier{},
		store:    storage.NewMemoryStore(),
	}

	resolver := redirect.NewResolver(redirect.PageContext{
		Location: loc,
		Referrer: "https://example.com/pricing/",
	}, redirect.Config{
		DefaultRedirect: "/",
		DefaultThankYou: "/registr/",
	})

	f.coord = New(Options{
		Provider:         f.provider,
		Ledger:           ledger.New(f.store),
		Resolver:         resolver,
		Backend:          f.backend,
		Store:            f.store,
		Nav:              f.nav,
		Notifier:         f.notifier,
		PageURL:          loc,
		NewUserThreshold: 24 * time.Hour,
		Now: func() time.Time {
			return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
		},
	})
	return f
}

func (f *fixture) setTriggerFlag(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.Set(context.Background(), "authfront_auth_triggered", "true"))
}

func newUserAt(created string) provider.User {
	return provider.User{ID: "u1", Email: "user@example.com", CreatedAt: created}
}

func tokenKeyOf(token string) string {
	return crypto.DeriveTokenKey(token)
}

func TestSignInNewUserRedirectsToThankYou(t *testing.T) {
	// Scenario: user-triggered sign-in, backend succeeds, account created
	// one second before the fixed clock.
	f := newFixture(t, "https://example.com/login/")
	f.setTriggerFlag(t)
	f.coord.Init(context.Background())

	session := sessionWithUser("tok-abc", newUserAt("2026-08-31T11:59:59Z"))
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})

	assert.Equal(t, 1, f.backend.calls)
	assert.Equal(t, []string{"/registr/"}, f.nav.targets)
	assert.Equal(t, StateRedirecting, f.coord.State())

	// The token is durably completed: a fresh ledger over the same store
	// refuses it.
	decision := ledger.New(f.store).BeginProcessing(context.Background(), tokenKeyOf("tok-abc"))
	assert.Equal(t, ledger.AlreadyCompleted, decision)
}

func TestSignInReturningUserRedirectsToOrigin(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.setTriggerFlag(t)
	f.coord.Init(context.Background())

	session := sessionWithUser("tok-abc", newUserAt("2020-01-01T00:00:00Z"))
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})

	assert.Equal(t, []string{"/pricing/"}, f.nav.targets)
}

func TestBackendFailureRollsBackAndAllowsRetry(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.setTriggerFlag(t)
	f.coord.Init(context.Background())
	f.backend.err = &backend.RejectedError{Status: 401, Message: "token rejected"}

	session := sessionWithUser("tok-abc", newUserAt("2026-08-31T11:59:59Z"))
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})

	assert.Empty(t, f.nav.targets)
	assert.Equal(t, []string{"token rejected"}, f.notifier.errors)
	assert.False(t, f.coord.RedirectInProgress())
	assert.Equal(t, StateIdle, f.coord.State())

	// A second identical event proceeds again.
	f.backend.err = nil
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})

	assert.Equal(t, 2, f.backend.calls)
	assert.Equal(t, []string{"/registr/"}, f.nav.targets)
}

func TestDuplicateEventsCauseOneBackendCall(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.setTriggerFlag(t)
	f.coord.Init(context.Background())

	session := sessionWithUser("tok-abc", newUserAt("2026-08-31T11:59:59Z"))
	event := provider.Event{Type: provider.EventSignedIn, Session: session}

	f.provider.dispatcher.Emit(event)
	f.provider.dispatcher.Emit(event)
	f.provider.dispatcher.Emit(event)

	assert.Equal(t, 1, f.backend.calls)
	assert.Len(t, f.nav.targets, 1, "at most one navigation per page load")
}

func TestAmbientSessionRestoreIsIgnored(t *testing.T) {
	// Scenario: SIGNED_IN with a session but no trigger flag and no token
	// fragment. No ledger interaction, no navigation.
	f := newFixture(t, "https://example.com/login/")
	f.coord.Init(context.Background())

	session := sessionWithUser("tok-ambient", newUserAt("2026-08-31T11:59:59Z"))
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})

	assert.Zero(t, f.backend.calls)
	assert.Empty(t, f.nav.targets)
	assert.Equal(t, StateIdle, f.coord.State())

	keys, err := f.store.ListKeys(context.Background(), "authfront_processed_")
	require.NoError(t, err)
	assert.Empty(t, keys, "ledger must not be touched")
}

func TestNonSignInEventsAreIgnored(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.setTriggerFlag(t)
	f.coord.Init(context.Background())

	session := sessionWithUser("tok-abc", newUserAt("2026-08-31T11:59:59Z"))
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventTokenRefreshed, Session: session})
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedOut})
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: nil})

	assert.Zero(t, f.backend.calls)
	assert.Empty(t, f.nav.targets)
}

func TestMagicLinkFragmentQualifiesWithoutTrigger(t *testing.T) {
	f := newFixture(t, "https://example.com/login/#access_token=tok-magic&token_type=bearer")
	f.provider.user = newUserAt("2026-08-31T11:59:59Z")
	f.coord.Init(context.Background())

	// Fragment sessions carry no user record; the coordinator resolves
	// it through the provider.
	session := provider.SessionFromFragment("access_token=tok-magic&token_type=bearer")
	require.NotNil(t, session)
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})

	assert.Equal(t, 1, f.backend.calls)
	assert.Equal(t, []string{"/registr/"}, f.nav.targets)
}

func TestSuccessClearsTriggerFlag(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.setTriggerFlag(t)
	f.coord.Init(context.Background())

	session := sessionWithUser("tok-abc", newUserAt("2020-01-01T00:00:00Z"))
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})

	_, err := f.store.Get(context.Background(), "authfront_auth_triggered")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBackendFailureKeepsTriggerFlag(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.setTriggerFlag(t)
	f.coord.Init(context.Background())
	f.backend.err = &backend.RejectedError{Status: 500, Message: "try again"}

	session := sessionWithUser("tok-abc", newUserAt("2020-01-01T00:00:00Z"))
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})

	value, err := f.store.Get(context.Background(), "authfront_auth_triggered")
	require.NoError(t, err)
	assert.Equal(t, "true", value, "retry must still count as user-triggered")
}

func TestSubmitEmailSetsTriggerFlagAndDelegates(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.coord.Init(context.Background())

	require.NoError(t, f.coord.SubmitEmail(context.Background(), "user@example.com"))

	assert.Equal(t, []string{"user@example.com"}, f.provider.otpCalls)
	value, err := f.store.Get(context.Background(), "authfront_auth_triggered")
	require.NoError(t, err)
	assert.Equal(t, "true", value)
}

func TestVerifyCodeDrivesFullFlow(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.provider.user = newUserAt("2026-08-31T11:59:59Z")
	f.coord.Init(context.Background())

	require.NoError(t, f.coord.SubmitEmail(context.Background(), "user@example.com"))
	require.NoError(t, f.coord.VerifyCode(context.Background(), "user@example.com", "123456"))

	// VerifyOTP emitted SIGNED_IN synchronously; the whole pipeline ran.
	assert.Equal(t, 1, f.backend.calls)
	assert.Equal(t, []string{"/registr/"}, f.nav.targets)
}

func TestResendDoesNotRequirePriorTrigger(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.coord.Init(context.Background())

	require.NoError(t, f.coord.ResendCode(context.Background(), "user@example.com"))

	assert.Equal(t, []string{"user@example.com"}, f.provider.otpCalls)
	_, err := f.store.Get(context.Background(), "authfront_auth_triggered")
	assert.ErrorIs(t, err, storage.ErrNotFound, "resend must not set the trigger flag")
}

func TestInitIsGuardedAgainstDoubleSubscription(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.setTriggerFlag(t)
	f.coord.Init(context.Background())
	f.coord.Init(context.Background())

	session := sessionWithUser("tok-abc", newUserAt("2020-01-01T00:00:00Z"))
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})

	assert.Equal(t, 1, f.backend.calls, "double Init must not duplicate handlers")
}

func TestInitCleansStaleMarkersBeforeSubscribing(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.setTriggerFlag(t)

	// A marker left by a previous page load would otherwise block this
	// sign-in.
	require.NoError(t, f.store.Set(context.Background(),
		"authfront_processed_"+tokenKeyOf("tok-abc"), "completed"))

	f.coord.Init(context.Background())

	session := sessionWithUser("tok-abc", newUserAt("2020-01-01T00:00:00Z"))
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})

	assert.Equal(t, 1, f.backend.calls)
}

func TestCloseUnsubscribes(t *testing.T) {
	f := newFixture(t, "https://example.com/login/")
	f.setTriggerFlag(t)
	f.coord.Init(context.Background())
	f.coord.Close()

	session := sessionWithUser("tok-abc", newUserAt("2020-01-01T00:00:00Z"))
	f.provider.dispatcher.Emit(provider.Event{Type: provider.EventSignedIn, Session: session})

	assert.Zero(t, f.backend.calls)
}
