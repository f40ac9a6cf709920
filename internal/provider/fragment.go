package provider

import (
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// HasAccessTokenFragment reports whether a URL fragment carries an access
// token, the marker of a magic-link landing.
func HasAccessTokenFragment(fragment string) bool {
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return false
	}
	return values.Get("access_token") != ""
}

// SessionFromFragment recovers the credential half of a session from a
// magic-link URL fragment (access_token=...&refresh_token=...&expires_in=...).
// The user record is not in the fragment; resolve it separately with
// Provider.UserFromToken. Returns nil when the fragment has no token.
func SessionFromFragment(fragment string) *Session {
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return nil
	}

	accessToken := values.Get("access_token")
	if accessToken == "" {
		return nil
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    values.Get("token_type"),
		RefreshToken: values.Get("refresh_token"),
	}
	if expiresIn, err := strconv.ParseInt(values.Get("expires_in"), 10, 64); err == nil && expiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}

	return &Session{Token: token}
}
