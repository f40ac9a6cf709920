package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgellow/auth-front/internal/emailutil"
	jsonwriter "github.com/dgellow/auth-front/internal/json"
	"github.com/dgellow/auth-front/internal/log"
	"github.com/dgellow/auth-front/internal/provider"
)

type emailRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type callbackRequest struct {
	Fragment string `json:"fragment"`
}

type redirectResponse struct {
	RedirectTo string `json:"redirect_to"`
}

// handleConfig is polled by the auth page on load. It reports the public
// provider settings and runs the page-load housekeeping: stale ledger
// markers from interrupted attempts are pruned here, before any auth
// event for this load can fire.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	f := s.newFlow(r, "")
	defer f.coord.Close()
	f.coord.Init(r.Context())

	_ = jsonwriter.Write(w, map[string]string{
		"provider_url":     s.cfg.Provider.URL,
		"default_redirect": s.cfg.Redirects.DefaultRedirect,
	})
}

// handleEmail starts a magic-link attempt for the submitted address.
func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "email is required")
		return
	}
	req.Email = emailutil.Normalize(req.Email)
	if !emailutil.IsValid(req.Email) {
		jsonwriter.WriteBadRequest(w, "a valid email is required")
		return
	}

	f := s.newFlow(r, "")
	defer f.coord.Close()
	f.coord.Attach(r.Context())

	if err := f.coord.SubmitEmail(r.Context(), req.Email); err != nil {
		writeProviderError(w, err)
		return
	}

	_ = jsonwriter.WriteResponse(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// handleResend re-sends the magic link without touching flow state.
func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "email is required")
		return
	}
	req.Email = emailutil.Normalize(req.Email)
	if !emailutil.IsValid(req.Email) {
		jsonwriter.WriteBadRequest(w, "a valid email is required")
		return
	}

	f := s.newFlow(r, "")
	defer f.coord.Close()
	f.coord.Attach(r.Context())

	if err := f.coord.ResendCode(r.Context(), req.Email); err != nil {
		writeProviderError(w, err)
		return
	}

	_ = jsonwriter.WriteResponse(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// handleVerify exchanges the emailed code. A successful exchange emits a
// sign-in event which the coordinator turns into either a redirect target
// or a user-visible error; the handler reports whichever was recorded.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "email is required")
		return
	}
	req.Email = emailutil.Normalize(req.Email)
	if !emailutil.IsValid(req.Email) {
		jsonwriter.WriteBadRequest(w, "a valid email is required")
		return
	}
	if len(req.Code) != 6 {
		jsonwriter.WriteBadRequest(w, "please enter the 6-digit code")
		return
	}

	f := s.newFlow(r, "")
	defer f.coord.Close()
	f.coord.Attach(r.Context())

	if err := f.coord.VerifyCode(r.Context(), req.Email, req.Code); err != nil {
		writeProviderError(w, err)
		return
	}

	s.writeOutcome(w, f)
}

// handleOAuth redirects the browser to the provider's social sign-in URL.
func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("provider")
	if name == "" {
		jsonwriter.WriteBadRequest(w, "provider is required")
		return
	}

	f := s.newFlow(r, "")
	defer f.coord.Close()
	f.coord.Attach(r.Context())

	target, err := f.coord.SignInWithOAuth(r.Context(), name)
	if err != nil {
		writeProviderError(w, err)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// handleCallback receives the URL fragment from a magic-link landing.
// This is a fresh page load, so it runs the full init including ledger
// cleanup before the detected session is announced.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Fragment == "" {
		jsonwriter.WriteBadRequest(w, "fragment is required")
		return
	}

	session := provider.SessionFromFragment(req.Fragment)
	if session == nil {
		jsonwriter.WriteBadRequest(w, "no session in fragment")
		return
	}

	f := s.newFlow(r, req.Fragment)
	defer f.coord.Close()
	f.coord.Init(r.Context())
	f.client.EmitSessionDetected(session)

	s.writeOutcome(w, f)
}

// writeOutcome translates what the coordinator did with the sign-in event.
// No redirect and no error means the event was deduplicated or did not
// qualify, which is a success from the caller's point of view.
func (s *Server) writeOutcome(w http.ResponseWriter, f *flow) {
	if target := f.nav.Target(); target != "" {
		_ = jsonwriter.Write(w, redirectResponse{RedirectTo: target})
		return
	}
	if message := f.notifier.Message(); message != "" {
		jsonwriter.WriteUnauthorized(w, message)
		return
	}
	_ = jsonwriter.Write(w, map[string]string{"status": "ok"})
}

// writeProviderError maps provider failures to responses. Provider 4xx
// statuses pass through with their message, anything else is reported as
// an upstream failure.
func writeProviderError(w http.ResponseWriter, err error) {
	var provErr *provider.Error
	if errors.As(err, &provErr) && provErr.Status >= 400 && provErr.Status < 500 {
		jsonwriter.WriteError(w, provErr.Status, http.StatusText(provErr.Status), provErr.Message)
		return
	}

	log.LogErrorWithFields("server", "Provider request failed", map[string]any{
		"error": err.Error(),
	})
	jsonwriter.WriteBadGateway(w, "authentication service unavailable")
}
