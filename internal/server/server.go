// Package server exposes the authentication flow over HTTP. Each request
// builds a short-lived coordinator wired to the shared dedup ledger and
// store, so concurrent requests behave like concurrent page loads against
// the same browser storage.
package server

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/dgellow/auth-front/internal/backend"
	"github.com/dgellow/auth-front/internal/config"
	"github.com/dgellow/auth-front/internal/coordinator"
	"github.com/dgellow/auth-front/internal/ledger"
	"github.com/dgellow/auth-front/internal/provider"
	"github.com/dgellow/auth-front/internal/redirect"
	"github.com/dgellow/auth-front/internal/storage"
)

// Server routes authentication requests to per-request coordinators.
type Server struct {
	cfg     config.Config
	baseURL *url.URL
	store   storage.Store
	ledger  *ledger.Ledger
	backend *backend.Client
}

// NewServer validates the base URL and wires the shared collaborators.
func NewServer(cfg config.Config, store storage.Store) (*Server, error) {
	baseURL, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !baseURL.IsAbs() {
		return nil, fmt.Errorf("base URL must be absolute: %q", cfg.Server.BaseURL)
	}

	return &Server{
		cfg:     cfg,
		baseURL: baseURL,
		store:   store,
		ledger:  ledger.New(store),
		backend: backend.NewClient(cfg.Backend.CallbackURL),
	}, nil
}

// Handler builds the route table wrapped in the standard middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", NewHealthHandler())
	mux.HandleFunc("GET /auth/config", s.handleConfig)
	mux.HandleFunc("POST /auth/email", s.handleEmail)
	mux.HandleFunc("POST /auth/resend", s.handleResend)
	mux.HandleFunc("POST /auth/verify", s.handleVerify)
	mux.HandleFunc("GET /auth/oauth/{provider}", s.handleOAuth)
	mux.HandleFunc("POST /auth/callback", s.handleCallback)

	origin := &url.URL{Scheme: s.baseURL.Scheme, Host: s.baseURL.Host}
	return ChainMiddleware(mux,
		NewCORSMiddleware([]string{origin.String()}),
		NewLoggerMiddleware("server"),
		NewRecoverMiddleware("server"),
	)
}

// flow bundles the collaborators for one request. The navigator and
// notifier record what the coordinator would have done to the page so the
// handler can translate it into a response.
type flow struct {
	coord    *coordinator.Coordinator
	client   *provider.GoTrueClient
	nav      *redirectRecorder
	notifier *errorRecorder
}

// newFlow builds a coordinator for one request. The page URL is the
// configured auth page carrying the request's query string, which is how
// redirect_to and thank_you parameters reach the resolver, plus the URL
// fragment when the request delivers one from a magic-link landing.
func (s *Server) newFlow(r *http.Request, fragment string) *flow {
	pageURL := *s.baseURL
	pageURL.RawQuery = r.URL.RawQuery
	pageURL.Fragment = fragment

	client := provider.NewGoTrueClient(s.cfg.Provider.URL, string(s.cfg.Provider.AnonKey))
	resolver := redirect.NewResolver(redirect.PageContext{
		Location: &pageURL,
		Referrer: r.Referer(),
	}, s.cfg.Redirects.RedirectConfig())

	nav := &redirectRecorder{}
	notifier := &errorRecorder{}

	coord := coordinator.New(coordinator.Options{
		Provider:         client,
		Ledger:           s.ledger,
		Resolver:         resolver,
		Backend:          s.backend,
		Store:            s.store,
		Nav:              nav,
		Notifier:         notifier,
		PageURL:          &pageURL,
		NewUserThreshold: s.cfg.NewUserThreshold,
	})

	return &flow{coord: coord, client: client, nav: nav, notifier: notifier}
}

// redirectRecorder captures the navigation target instead of moving a page.
type redirectRecorder struct {
	mu     sync.Mutex
	target string
}

func (r *redirectRecorder) Navigate(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = target
}

func (r *redirectRecorder) Target() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// errorRecorder captures the user-visible error message.
type errorRecorder struct {
	mu      sync.Mutex
	message string
}

func (e *errorRecorder) ShowError(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.message = message
}

func (e *errorRecorder) Message() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.message
}
