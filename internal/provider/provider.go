// Package provider talks to the identity provider: passwordless OTP and
// magic link flows, OAuth initiation, and the auth event stream consumed
// by the coordinator.
package provider

import (
	"context"
	"fmt"
)

// Provider abstracts identity provider operations.
type Provider interface {
	// Type returns the provider type identifier (e.g. "gotrue").
	Type() string

	// SignInWithOTP sends a magic link / one-time code to email. The
	// provider redirects back to redirectTo after the link is used.
	SignInWithOTP(ctx context.Context, email, redirectTo string) error

	// VerifyOTP exchanges an emailed code for a session. A successful
	// verification is also emitted on the event stream.
	VerifyOTP(ctx context.Context, email, code string) (*Session, error)

	// OAuthURL builds the provider URL to navigate to for a social
	// OAuth sign-in (e.g. "google", "facebook").
	OAuthURL(oauthProvider, redirectTo string) (string, error)

	// UserFromToken fetches the user record behind an access token.
	UserFromToken(ctx context.Context, accessToken string) (*User, error)

	// OnAuthStateChange registers handler for auth events. Handlers are
	// invoked synchronously in registration order.
	OnAuthStateChange(handler func(Event)) *Subscription
}

// Error is a failure reported by the identity provider itself, as opposed
// to a transport failure. Recoverable: surfaced to the user inline, never
// touches the coordinator state machine.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}
