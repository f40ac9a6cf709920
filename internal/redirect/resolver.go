// Package redirect decides where a user lands after sign-in. Every
// candidate destination that comes from a query parameter or a config
// mapping is validated against the page origin before use; anything
// unsafe silently degrades to the configured default so login is never
// blocked by a bad redirect value.
package redirect

import (
	"net/url"
	"strings"

	"github.com/dgellow/auth-front/internal/log"
)

// Pair maps a registration page to the thank-you page shown to accounts
// created through it.
type Pair struct {
	RegistrationURL string `json:"registrationUrl"`
	ThankYouURL     string `json:"thankYouUrl"`
}

// Config holds the server-supplied redirect mappings.
type Config struct {
	// DefaultRedirect is where returning users land when no better
	// destination is known.
	DefaultRedirect string

	// DefaultThankYou is the global thank-you page for new accounts.
	DefaultThankYou string

	// RegistrationPairs is an ordered list of registration page to
	// thank-you page mappings; the first match on the origin page wins.
	RegistrationPairs []Pair

	// LegacyThankYouPages is the old path-keyed mapping, kept for
	// backward compatibility and consulted after RegistrationPairs.
	LegacyThankYouPages map[string]string
}

// PageContext captures the request-time facts the resolver works from:
// where the auth page itself lives and where the user came from.
type PageContext struct {
	// Location is the full URL of the auth page, including query.
	Location *url.URL

	// Referrer is the raw referrer header value, possibly empty or
	// cross-origin.
	Referrer string
}

// Resolver computes post-login destinations. The origin page is resolved
// once at construction and frozen, so later decisions cannot race against
// navigation changing the current location underneath them.
type Resolver struct {
	cfg         Config
	base        *url.URL
	currentPath string
	query       url.Values
	originPage  string
}

// NewResolver builds a resolver for one page load.
func NewResolver(page PageContext, cfg Config) *Resolver {
	r := &Resolver{
		cfg:         cfg,
		base:        page.Location,
		currentPath: page.Location.Path,
		query:       page.Location.Query(),
	}
	r.originPage = r.resolveOriginPage(page.Referrer)
	return r
}

// resolveOriginPage determines the page the user is considered to have
// come from. Priority: explicit redirect_to parameter, then a same-origin
// referrer path, then the current page path.
func (r *Resolver) resolveOriginPage(referrer string) string {
	if redirectTo := r.query.Get("redirect_to"); redirectTo != "" {
		log.LogDebug("Origin page from redirect_to param: %s", redirectTo)
		return redirectTo
	}

	if referrer != "" {
		if referrerURL, err := url.Parse(referrer); err == nil && r.sameOrigin(referrerURL) {
			log.LogDebug("Origin page from referrer: %s", referrerURL.Path)
			return referrerURL.Path
		}
	}

	log.LogDebug("Origin page fallback to current page: %s", r.currentPath)
	return r.currentPath
}

// OriginPage returns the frozen origin page for this page load.
func (r *Resolver) OriginPage() string {
	return r.originPage
}

// IsSafeRedirect reports whether candidate may be used as a redirect
// target: a root-relative path, or an absolute URL on the page's own
// origin. Anything else is rejected: relative junk ("not a url"),
// scheme-relative "//host" forms, and absolute URLs on foreign origins.
// Candidates are parsed standalone, never resolved against the page URL,
// so a bare word cannot sneak through as a same-origin path. This is the
// sole defense against open redirects.
func (r *Resolver) IsSafeRedirect(candidate string) bool {
	if candidate == "" {
		return false
	}

	if strings.HasPrefix(candidate, "/") {
		return !strings.HasPrefix(candidate, "//")
	}

	candidateURL, err := url.Parse(candidate)
	if err != nil || !candidateURL.IsAbs() {
		log.LogWarn("Rejecting redirect candidate: %s", candidate)
		return false
	}
	return r.sameOrigin(candidateURL)
}

// ReturnURL is the destination for returning users: the origin page,
// unless that would loop back to the auth page itself or fails the safety
// check, in which case the configured default wins.
func (r *Resolver) ReturnURL() string {
	if r.originPage == r.currentPath {
		log.LogDebug("Origin page is current page, using default redirect")
		return r.cfg.DefaultRedirect
	}
	if !r.IsSafeRedirect(r.originPage) {
		log.LogWarnWithFields("redirect", "Unsafe return target, using default redirect", map[string]any{
			"origin_page": r.originPage,
		})
		return r.cfg.DefaultRedirect
	}
	return r.originPage
}

// ThankYouPage is the destination for newly created accounts. Priority:
// explicit thank_you parameter (validated), registration pair matching the
// origin page, legacy path-keyed mapping, global default.
func (r *Resolver) ThankYouPage() string {
	if custom := r.query.Get("thank_you"); custom != "" {
		if !r.IsSafeRedirect(custom) {
			log.LogWarnWithFields("redirect", "Unsafe thank_you parameter, using default", map[string]any{
				"thank_you": custom,
			})
			return r.cfg.DefaultThankYou
		}
		return custom
	}

	for _, pair := range r.cfg.RegistrationPairs {
		if pair.RegistrationURL == r.originPage && pair.ThankYouURL != "" {
			log.LogDebug("Thank-you page from registration pair: %s -> %s", r.originPage, pair.ThankYouURL)
			return pair.ThankYouURL
		}
	}

	if legacy, ok := r.cfg.LegacyThankYouPages[r.originPage]; ok {
		log.LogDebug("Thank-you page from legacy mapping: %s -> %s", r.originPage, legacy)
		return legacy
	}

	return r.cfg.DefaultThankYou
}

func (r *Resolver) sameOrigin(u *url.URL) bool {
	return u.Scheme == r.base.Scheme && u.Host == r.base.Host
}
