package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/auth-front/internal/crypto"
	"github.com/dgellow/auth-front/internal/log"
	"github.com/dgellow/auth-front/internal/urlutil"
	"golang.org/x/oauth2"
)

// GoTrueClient implements Provider against a GoTrue-compatible auth API
// (the server behind Supabase auth). Successful sign-ins are emitted on
// the event stream, so callers that only subscribe still observe every
// SIGNED_IN regardless of which call produced it.
type GoTrueClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	dispatcher *Dispatcher
}

var _ Provider = (*GoTrueClient)(nil)

// NewGoTrueClient creates a client for the GoTrue API at baseURL.
func NewGoTrueClient(baseURL, anonKey string) *GoTrueClient {
	return &GoTrueClient{
		baseURL:    baseURL,
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dispatcher: NewDispatcher(),
	}
}

// Type returns the provider type.
func (c *GoTrueClient) Type() string {
	return "gotrue"
}

// OnAuthStateChange registers handler on the client's event stream.
func (c *GoTrueClient) OnAuthStateChange(handler func(Event)) *Subscription {
	return c.dispatcher.Subscribe(handler)
}

// SignInWithOTP asks the provider to email a magic link / one-time code.
func (c *GoTrueClient) SignInWithOTP(ctx context.Context, email, redirectTo string) error {
	endpoint := urlutil.MustJoinPath(c.baseURL, "otp")
	if redirectTo != "" {
		endpoint += "?redirect_to=" + url.QueryEscape(redirectTo)
	}

	body := map[string]any{
		"email":       email,
		"create_user": true,
	}

	var ignored json.RawMessage
	if err := c.post(ctx, endpoint, "", body, &ignored); err != nil {
		return err
	}

	log.LogInfoWithFields("provider", "OTP sent", map[string]any{
		"email": email,
	})
	return nil
}

// gotrueSession is the wire shape of a GoTrue token response.
type gotrueSession struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

func (g *gotrueSession) toSession() *Session {
	token := &oauth2.Token{
		AccessToken:  g.AccessToken,
		TokenType:    g.TokenType,
		RefreshToken: g.RefreshToken,
	}
	if g.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(g.ExpiresIn) * time.Second)
	}
	return &Session{Token: token, User: g.User}
}

// VerifyOTP exchanges an emailed code for a session and emits SIGNED_IN.
func (c *GoTrueClient) VerifyOTP(ctx context.Context, email, code string) (*Session, error) {
	body := map[string]any{
		"type":  "email",
		"email": email,
		"token": code,
	}

	var raw gotrueSession
	if err := c.post(ctx, urlutil.MustJoinPath(c.baseURL, "verify"), "", body, &raw); err != nil {
		return nil, err
	}

	session := raw.toSession()
	c.dispatcher.Emit(Event{Type: EventSignedIn, Session: session})
	return session, nil
}

// OAuthURL builds the navigation URL for a social OAuth sign-in. The
// provider handles the whole OAuth dance and redirects back to redirectTo
// with a session in the URL fragment. Each URL carries a fresh state
// nonce so authorize requests are never replayable verbatim.
func (c *GoTrueClient) OAuthURL(oauthProvider, redirectTo string) (string, error) {
	if oauthProvider == "" {
		return "", &Error{Message: "oauth provider is required"}
	}

	state, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("generating state nonce: %w", err)
	}

	authorize, err := url.Parse(urlutil.MustJoinPath(c.baseURL, "authorize"))
	if err != nil {
		return "", fmt.Errorf("building authorize URL: %w", err)
	}

	q := authorize.Query()
	q.Set("provider", oauthProvider)
	q.Set("state", state)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	authorize.RawQuery = q.Encode()

	return authorize.String(), nil
}

// UserFromToken fetches the user record behind an access token. Needed
// for magic-link landings, where the URL fragment carries tokens but no
// user object.
func (c *GoTrueClient) UserFromToken(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlutil.MustJoinPath(c.baseURL, "user"), nil)
	if err != nil {
		return nil, fmt.Errorf("creating user request: %w", err)
	}
	c.setHeaders(req, accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading user response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, data)
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parsing user response: %w", err)
	}
	return &user, nil
}

// EmitSessionDetected publishes a SIGNED_IN for a session recovered from
// outside the client's own calls (e.g. a magic-link URL fragment).
func (c *GoTrueClient) EmitSessionDetected(session *Session) {
	c.dispatcher.Emit(Event{Type: EventSignedIn, Session: session})
}

func (c *GoTrueClient) post(ctx context.Context, endpoint, accessToken string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling provider: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parsing provider response: %w", err)
		}
	}
	return nil
}

func (c *GoTrueClient) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("apikey", c.anonKey)
	if accessToken == "" {
		accessToken = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

// parseAPIError maps a GoTrue error body to *Error. GoTrue uses both
// {"msg": ...} and {"error": ..., "error_description": ...} shapes.
func parseAPIError(status int, data []byte) error {
	var body struct {
		Msg              string `json:"msg"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(data, &body)

	message := body.Msg
	if message == "" {
		message = body.ErrorDescription
	}
	if message == "" {
		message = body.Error
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Status: status, Message: message}
}
