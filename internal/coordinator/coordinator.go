// Package coordinator drives the authentication callback flow: it
// consumes identity-provider events, gates the backend session exchange
// through the dedup ledger, classifies the account as new or returning,
// and performs the final navigation.
package coordinator

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/dgellow/auth-front/internal/backend"
	"github.com/dgellow/auth-front/internal/crypto"
	"github.com/dgellow/auth-front/internal/ledger"
	"github.com/dgellow/auth-front/internal/log"
	"github.com/dgellow/auth-front/internal/provider"
	"github.com/dgellow/auth-front/internal/redirect"
	"github.com/dgellow/auth-front/internal/storage"
)

// triggerFlagKey is the persisted marker recording that the current
// sign-in attempt was explicitly user-initiated on this device. Persisted
// (not in-memory) because provider OAuth flows navigate away and back.
const triggerFlagKey = "authfront_auth_triggered"

// State is the coordinator's position in one event's lifecycle.
type State int

const (
	// StateIdle accepts events. A failed exchange resets here so the
	// user can retry.
	StateIdle State = iota

	// StateAwaitingBackend has a session exchange in flight.
	StateAwaitingBackend

	// StateRedirecting is terminal for the page load; navigation was
	// handed off.
	StateRedirecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingBackend:
		return "awaiting_backend"
	case StateRedirecting:
		return "redirecting"
	default:
		return "unknown"
	}
}

// Navigator performs the final navigation side effect.
type Navigator interface {
	Navigate(target string)
}

// Notifier surfaces a transient, user-visible error message.
type Notifier interface {
	ShowError(message string)
}

// SessionExchanger is the backend session-exchange capability.
type SessionExchanger interface {
	ExchangeSession(ctx context.Context, accessToken string) error
}

// Options carries the coordinator's collaborators and settings.
type Options struct {
	Provider provider.Provider
	Ledger   *ledger.Ledger
	Resolver *redirect.Resolver
	Backend  SessionExchanger
	Store    storage.Store
	Nav      Navigator
	Notifier Notifier

	// PageURL is the full URL of the auth page for this load, fragment
	// included when the provider redirected back with one.
	PageURL *url.URL

	// NewUserThreshold decides new vs returning accounts.
	NewUserThreshold time.Duration

	// Now defaults to time.Now; injectable for tests.
	Now func() time.Time
}

// Coordinator is the auth event state machine for one page load. All
// previously-global flags of the flow (redirect guard, trigger flag,
// subscription guard) live here as fields with explicit reset points.
type Coordinator struct {
	provider  provider.Provider
	ledger    *ledger.Ledger
	resolver  *redirect.Resolver
	backend   SessionExchanger
	store     storage.Store
	navigator Navigator
	notifier  Notifier

	pageURL          *url.URL
	newUserThreshold time.Duration
	now              func() time.Time

	// hasTokenFragment is frozen at construction: did this page load
	// arrive via a magic link with tokens in the URL fragment?
	hasTokenFragment bool

	mu                 sync.Mutex
	state              State
	redirectInProgress bool
	userTriggered      bool
	initialized        bool
	subscription       *provider.Subscription
}

// New creates a coordinator. Call Init before expecting events.
func New(opts Options) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		provider:         opts.Provider,
		ledger:           opts.Ledger,
		resolver:         opts.Resolver,
		backend:          opts.Backend,
		store:            opts.Store,
		navigator:        opts.Nav,
		notifier:         opts.Notifier,
		pageURL:          opts.PageURL,
		newUserThreshold: opts.NewUserThreshold,
		now:              now,
		hasTokenFragment: provider.HasAccessTokenFragment(opts.PageURL.Fragment),
		state:            StateIdle,
	}
}

// Init prepares the coordinator for a fresh page load: prune stale ledger
// markers, load the persisted trigger flag, then subscribe to the event
// stream. Cleanup must complete before the subscription exists, otherwise
// it could delete a marker written by this same load. Init is guarded;
// calling it twice never creates a second subscription.
func (c *Coordinator) Init(ctx context.Context) {
	if !c.beginInit() {
		return
	}
	c.ledger.CleanupStale(ctx)
	c.attach(ctx)
}

// Attach subscribes without pruning the ledger. For contexts that continue
// an already-loaded page (follow-up user actions) rather than starting a
// new one; pruning here would erase markers the load depends on.
func (c *Coordinator) Attach(ctx context.Context) {
	if !c.beginInit() {
		return
	}
	c.attach(ctx)
}

func (c *Coordinator) beginInit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		log.LogWarn("Coordinator already initialized, skipping")
		return false
	}
	c.initialized = true
	return true
}

func (c *Coordinator) attach(ctx context.Context) {
	value, err := c.store.Get(ctx, triggerFlagKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.LogWarnWithFields("coordinator", "Failed to read trigger flag", map[string]any{
			"error": err.Error(),
		})
	}

	c.mu.Lock()
	c.userTriggered = value == "true"
	c.subscription = c.provider.OnAuthStateChange(func(event provider.Event) {
		c.HandleAuthEvent(ctx, event)
	})
	c.mu.Unlock()

	log.LogInfoWithFields("coordinator", "Coordinator initialized", map[string]any{
		"user_triggered":     c.userTriggered,
		"has_token_fragment": c.hasTokenFragment,
	})
}

// Close unsubscribes from the provider event stream.
func (c *Coordinator) Close() {
	c.mu.Lock()
	sub := c.subscription
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// State returns the current state. Test and diagnostics hook.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RedirectInProgress reports the standing navigation guard.
func (c *Coordinator) RedirectInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirectInProgress
}

// HandleAuthEvent runs one event through the state machine. Duplicate and
// non-qualifying events are dropped silently; they are normal operation,
// not errors.
func (c *Coordinator) HandleAuthEvent(ctx context.Context, event provider.Event) {
	c.mu.Lock()

	// Outermost guard: once a navigation is underway, every further
	// event on this page load is a no-op, before any other check.
	if c.redirectInProgress {
		c.mu.Unlock()
		log.LogDebug("Already redirecting, dropping duplicate event")
		return
	}

	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}

	accessToken := event.Session.AccessToken()
	shouldRedirect := c.userTriggered || c.hasTokenFragment

	// Qualifying events only: a SIGNED_IN with a session, where the user
	// actually initiated sign-in here or landed from a magic link.
	// Ambient session restores must never trigger a redirect.
	if event.Type != provider.EventSignedIn || accessToken == "" || !shouldRedirect {
		c.mu.Unlock()
		log.LogDebugWithFields("coordinator", "Ignoring non-qualifying event", map[string]any{
			"event":           string(event.Type),
			"has_session":     accessToken != "",
			"should_redirect": shouldRedirect,
		})
		return
	}

	key := crypto.DeriveTokenKey(accessToken)
	decision := c.ledger.BeginProcessing(ctx, key)
	if decision != ledger.Proceed {
		c.mu.Unlock()
		log.LogDebugWithFields("coordinator", "Dropping duplicate token", map[string]any{
			"decision": decision.String(),
		})
		return
	}

	c.redirectInProgress = true
	c.state = StateAwaitingBackend
	c.mu.Unlock()

	c.exchangeAndRedirect(ctx, key, event.Session)
}

// exchangeAndRedirect performs the backend call and the terminal
// transition. Runs outside the state lock; concurrent events bounce off
// the redirectInProgress guard.
func (c *Coordinator) exchangeAndRedirect(ctx context.Context, key string, session *provider.Session) {
	if err := c.backend.ExchangeSession(ctx, session.AccessToken()); err != nil {
		// Roll back so the user can retry (e.g. resubmit the code).
		c.ledger.Abort(ctx, key)

		c.mu.Lock()
		c.redirectInProgress = false
		c.state = StateIdle
		c.mu.Unlock()

		log.LogErrorWithFields("coordinator", "Session exchange failed", map[string]any{
			"error": err.Error(),
		})
		c.notifier.ShowError(userMessage(err))
		return
	}

	c.ledger.Commit(ctx, key)
	c.clearTriggerFlag(ctx)

	user := c.resolveUser(ctx, session)
	newUser := IsNewUser(user, c.newUserThreshold, c.now())

	var target string
	if newUser {
		target = c.resolver.ThankYouPage()
	} else {
		target = c.resolver.ReturnURL()
	}

	c.mu.Lock()
	c.state = StateRedirecting
	c.mu.Unlock()

	log.LogInfoWithFields("coordinator", "Redirecting after sign-in", map[string]any{
		"target":   target,
		"new_user": newUser,
	})
	c.navigator.Navigate(target)
}

// resolveUser returns the session's user record, fetching it from the
// provider when the session came from a URL fragment and has none.
func (c *Coordinator) resolveUser(ctx context.Context, session *provider.Session) provider.User {
	if session.User.ID != "" || session.User.CreatedAt != "" {
		return session.User
	}

	user, err := c.provider.UserFromToken(ctx, session.AccessToken())
	if err != nil {
		log.LogWarnWithFields("coordinator", "Failed to resolve user record, treating as returning", map[string]any{
			"error": err.Error(),
		})
		return provider.User{}
	}
	return *user
}

// SubmitEmail marks the attempt user-initiated and asks the provider to
// send a magic link. Provider failures are returned to the caller and do
// not touch the state machine or the trigger flag.
func (c *Coordinator) SubmitEmail(ctx context.Context, email string) error {
	c.setTriggerFlag(ctx)
	return c.provider.SignInWithOTP(ctx, email, c.redirectTarget())
}

// SignInWithOAuth marks the attempt user-initiated and returns the
// provider URL to navigate to for the social sign-in.
func (c *Coordinator) SignInWithOAuth(ctx context.Context, oauthProvider string) (string, error) {
	c.setTriggerFlag(ctx)
	return c.provider.OAuthURL(oauthProvider, c.redirectTarget())
}

// VerifyCode exchanges the emailed code. On success the provider emits
// SIGNED_IN and the event path takes over; the trigger flag was already
// set when the email was submitted.
func (c *Coordinator) VerifyCode(ctx context.Context, email, code string) error {
	_, err := c.provider.VerifyOTP(ctx, email, code)
	return err
}

// ResendCode re-sends the magic link for an attempt already underway.
func (c *Coordinator) ResendCode(ctx context.Context, email string) error {
	return c.provider.SignInWithOTP(ctx, email, c.redirectTarget())
}

// redirectTarget is where the provider sends the user back: this page,
// query and fragment stripped.
func (c *Coordinator) redirectTarget() string {
	back := &url.URL{
		Scheme: c.pageURL.Scheme,
		Host:   c.pageURL.Host,
		Path:   c.pageURL.Path,
	}
	return back.String()
}

func (c *Coordinator) setTriggerFlag(ctx context.Context) {
	c.mu.Lock()
	c.userTriggered = true
	c.mu.Unlock()

	if err := c.store.Set(ctx, triggerFlagKey, "true"); err != nil {
		log.LogWarnWithFields("coordinator", "Failed to persist trigger flag", map[string]any{
			"error": err.Error(),
		})
	}
}

func (c *Coordinator) clearTriggerFlag(ctx context.Context) {
	c.mu.Lock()
	c.userTriggered = false
	c.mu.Unlock()

	if err := c.store.Delete(ctx, triggerFlagKey); err != nil {
		log.LogWarnWithFields("coordinator", "Failed to clear trigger flag", map[string]any{
			"error": err.Error(),
		})
	}
}

// userMessage maps an exchange failure to what the user sees.
func userMessage(err error) string {
	var rejected *backend.RejectedError
	if errors.As(err, &rejected) && rejected.Message != "" {
		return rejected.Message
	}
	return "Authentication failed"
}
