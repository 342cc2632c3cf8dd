package handler

import (
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/auth"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/service"
)

const oauthStateCookie = "oauth_state"

// AuthHandler serves signup, login, Google OAuth, and credential recovery.
type AuthHandler struct {
	auth   *service.AuthService
	google *auth.GoogleProvider
	cookie auth.CookieConfig
	logger *slog.Logger
}

func NewAuthHandler(authSvc *service.AuthService, google *auth.GoogleProvider, cookie auth.CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authSvc, google: google, cookie: cookie, logger: logger}
}

// SessionResponse is returned after any call that establishes a session.
type SessionResponse struct {
	User *model.User `json:"user"`
}

// SignupResponse carries the new account and its email verification token.
// Without an outbound mail integration the token is returned directly; the
// session starts at first login, after the address is verified.
type SignupResponse struct {
	User              *model.User `json:"user"`
	VerificationToken string      `json:"verificationToken"`
}

// HandleSignup creates an account and returns the verification token.
//
// POST /api/auth/signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req service.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, verifyToken, err := h.auth.Signup(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SignupResponse{User: user, VerificationToken: verifyToken})
}

// HandleLogin authenticates with email and password.
//
// POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, token, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	auth.SetSessionCookie(w, h.cookie, token)
	writeJSON(w, http.StatusOK, SessionResponse{User: user})
}

// HandleLogout clears the session cookie. Always succeeds.
//
// POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.cookie)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// HandleMe returns the authenticated user's profile.
//
// GET /api/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := h.auth.Me(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{User: user})
}

// HandleGoogleLogin redirects the browser to Google's consent page. A random
// state value is stored in a short-lived cookie and checked on callback.
//
// GET /api/auth/google
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.google.Configured() {
		writeError(w, apperror.Upstream("Google sign-in is not configured."))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the OAuth flow and issues the session.
//
// GET /api/auth/google/callback
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		writeError(w, apperror.Unauthorized("OAuth state mismatch. Please retry signing in."))
		return
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.Unauthorized("Google sign-in was canceled."))
		return
	}

	gUser, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("google code exchange failed", "error", err)
		writeError(w, err)
		return
	}

	user, token, err := h.auth.LoginWithGoogle(r.Context(), gUser)
	if err != nil {
		writeError(w, err)
		return
	}

	auth.SetSessionCookie(w, h.cookie, token)
	writeJSON(w, http.StatusOK, SessionResponse{User: user})
}

// HandleResendVerification issues a fresh verification token. Unverified
// accounts cannot log in, so this stays public and keys off the email; the
// response is the same whether or not the account exists.
//
// POST /api/auth/resend-verification
func (h *AuthHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := h.auth.EmailVerificationToken(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]string{"status": "sent"}
	if token != "" {
		resp["verificationToken"] = token
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleVerifyEmail consumes a verification token.
//
// POST /api/auth/verify-email
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.auth.VerifyEmail(r.Context(), req.Token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// HandleForgotPassword issues a password reset token. The response is the
// same whether or not the email exists.
//
// POST /api/auth/forgot-password
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := h.auth.PasswordResetToken(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]string{"status": "sent"}
	if token != "" {
		resp["resetToken"] = token
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleResetPassword consumes a reset token and sets a new password.
//
// POST /api/auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password_reset"})
}

// HandleChangePassword changes the password of the authenticated user.
//
// POST /api/auth/change-password
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.auth.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}
