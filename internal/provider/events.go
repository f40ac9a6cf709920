package provider

import (
	"golang.org/x/oauth2"
)

// EventType tags an auth state change reported by the identity provider.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// User is the provider's user record, as far as this system cares about
// it. CreatedAt stays a raw string on purpose: an unparseable timestamp
// must classify as a returning user, not fail the flow.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// Session is the authenticated credential plus user record issued by the
// provider. It is received, never created, by this system and treated as
// immutable for the lifetime of the event carrying it.
type Session struct {
	Token *oauth2.Token
	User  User
}

// AccessToken returns the raw access token, or "" for a nil session.
func (s *Session) AccessToken() string {
	if s == nil || s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

// Event is one auth state change. Session is nil for sign-outs and other
// sessionless events.
type Event struct {
	Type    EventType
	Session *Session
}
