package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/swapmeet/internal/apperr"
	"github.com/dukerupert/swapmeet/internal/auth"
	"github.com/dukerupert/swapmeet/internal/middleware"
	"github.com/dukerupert/swapmeet/internal/model"
	"github.com/dukerupert/swapmeet/internal/secret"
	"github.com/dukerupert/swapmeet/internal/store"
)

const forgotPasswordMessage = "If an account exists for that email, a reset link has been sent."

// Mailer delivers account emails. *email.Client satisfies it.
type Mailer interface {
	SendOTP(toEmail, code string, ttl time.Duration) error
	SendPasswordReset(toEmail, selector, token string, ttl time.Duration) error
	SendPasswordChanged(toEmail string) error
}

type AuthConfig struct {
	SessionMaxAge time.Duration
	// DebugSecrets echoes email verification codes in responses. Development only.
	DebugSecrets bool
}

type AuthHandler struct {
	userStore    *store.UserStore
	sessionStore *store.SessionStore
	secrets      *secret.Engine
	mailer       Mailer
	hasher       *auth.Hasher
	cfg          AuthConfig
	logger       *slog.Logger
}

func NewAuthHandler(
	us *store.UserStore,
	ss *store.SessionStore,
	secrets *secret.Engine,
	mailer Mailer,
	hasher *auth.Hasher,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		userStore:    us,
		sessionStore: ss,
		secrets:      secrets,
		mailer:       mailer,
		hasher:       hasher,
		cfg:          cfg,
		logger:       logger,
	}
}

type otpResponse struct {
	Delivered bool      `json:"delivered"`
	Selector  string    `json:"selector"`
	ExpiresAt time.Time `json:"expires_at"`
	OTPDebug  string    `json:"otp_debug,omitempty"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Email = normalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if !validEmail(req.Email) {
		writeMessage(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if req.FullName == "" {
		writeMessage(w, http.StatusBadRequest, "full name is required")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		writeMessage(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		writeError(w, h.logger, apperr.Internal(err))
		return
	}

	user, err := h.userStore.Create(req.Email, req.FullName, hash)
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, h.logger, apperr.Conflict("email already registered"))
		return
	}
	if err != nil {
		writeError(w, h.logger, apperr.Internal(err))
		return
	}

	resp := map[string]any{"user": user}

	// The account exists from here on. A code that cannot be issued now
	// is reported as undelivered so the client asks for a resend.
	otp, err := h.issueOTP(user.Email)
	var ae *apperr.Error
	switch {
	case err == nil:
		resp["delivered"] = otp.Delivered
		resp["selector"] = otp.Selector
		resp["expires_at"] = otp.ExpiresAt
		if otp.OTPDebug != "" {
			resp["otp_debug"] = otp.OTPDebug
		}
	case errors.Is(err, apperr.ErrCooldown) && errors.As(err, &ae):
		resp["delivered"] = false
		resp["retry_after"] = retryAfterSeconds(ae.RetryAfter)
	default:
		h.logger.Error("issue signup code", "error", err, "user_id", user.ID)
		resp["delivered"] = false
	}

	h.logger.Info("user signed up", "user_id", user.ID, "delivered", resp["delivered"])
	writeJSON(w, http.StatusCreated, resp)
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Code     string `json:"code"`
		Selector string `json:"selector"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	v, err := h.secrets.Verify(normalizeEmail(req.Email), strings.TrimSpace(req.Code), model.PurposeEmailVerification, req.Selector)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("email verified", "user_id", v.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"verified": true, "email": v.Identity})
}

func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if !validEmail(req.Email) {
		writeMessage(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	otp, err := h.issueOTP(req.Email)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, otp)
}

// issueOTP generates an email verification code and mails it. A delivery
// failure is logged and reported in the response rather than undoing the
// code, so the user can still ask for a resend.
func (h *AuthHandler) issueOTP(emailAddr string) (*otpResponse, error) {
	g, err := h.secrets.Generate(emailAddr, model.PurposeEmailVerification, secret.GenerateOptions{DebugReveal: h.cfg.DebugSecrets})
	if err != nil {
		return nil, err
	}

	resp := &otpResponse{
		Delivered: true,
		Selector:  g.Selector,
		ExpiresAt: g.ExpiresAt,
		OTPDebug:  g.DebugCode,
	}

	policy, _ := h.secrets.Policy(model.PurposeEmailVerification)
	if err := h.mailer.SendOTP(emailAddr, g.Secret, policy.TTL); err != nil {
		h.logger.Error("send otp", "error", err)
		resp.Delivered = false
	}
	return resp, nil
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, err := h.userStore.GetByEmail(normalizeEmail(req.Email))
	if err != nil {
		writeError(w, h.logger, apperr.Internal(err))
		return
	}
	if user == nil {
		writeMessage(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	ok, err := h.hasher.Compare(user.PasswordHash, req.Password)
	if err != nil {
		writeError(w, h.logger, apperr.Internal(err))
		return
	}
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if !user.Verified {
		writeMessage(w, http.StatusForbidden, "email not verified")
		return
	}

	sess, err := h.sessionStore.Create(user.ID, h.cfg.SessionMaxAge)
	if err != nil {
		writeError(w, h.logger, apperr.Internal(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if ok {
		if err := h.sessionStore.Delete(ac.SessionID); err != nil {
			h.logger.Error("delete session", "error", err)
		}
	}

	clearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

// DeleteAccount removes the caller's account with everything it owns and
// ends the session.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if err := h.userStore.Delete(userID); err != nil {
		if errors.Is(err, store.ErrStale) {
			writeError(w, h.logger, apperr.NotFound("user not found"))
			return
		}
		writeError(w, h.logger, apperr.Internal(err))
		return
	}

	clearSessionCookie(w, r)
	h.logger.Info("account deleted", "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "account deleted"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.userStore.GetByID(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, apperr.Internal(err))
		return
	}
	if user == nil {
		writeError(w, h.logger, apperr.NotFound("user not found"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ForgotPassword mails a reset link. The answer is the same whether or not
// the account exists; only a cooldown is reported distinctly.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	emailAddr := normalizeEmail(req.Email)
	if !validEmail(emailAddr) {
		writeMessage(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	resp := map[string]string{"message": forgotPasswordMessage}

	// The reset token only ever travels by email, even in development.
	g, err := h.secrets.Generate(emailAddr, model.PurposePasswordReset, secret.GenerateOptions{})
	switch {
	case errors.Is(err, apperr.ErrCooldown):
		writeError(w, h.logger, err)
		return
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusOK, resp)
		return
	case err != nil:
		writeError(w, h.logger, err)
		return
	}

	policy, _ := h.secrets.Policy(model.PurposePasswordReset)
	if err := h.mailer.SendPasswordReset(emailAddr, g.Selector, g.Secret, policy.TTL); err != nil {
		h.logger.Error("send password reset", "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ValidateResetToken tells a reset form whether its link is still good
// before the user picks a new password. The token stays unused.
func (h *AuthHandler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Selector string `json:"selector"`
		Token    string `json:"token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.secrets.Check(req.Selector, req.Token, model.PurposePasswordReset); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// ResetPassword consumes a reset token, replaces the password and signs the
// user out everywhere.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Selector string `json:"selector"`
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Selector == "" || req.Token == "" {
		writeMessage(w, http.StatusBadRequest, "selector and token are required")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		writeMessage(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	v, err := h.secrets.Verify("", req.Token, model.PurposePasswordReset, req.Selector)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if v.UserID == "" {
		writeError(w, h.logger, apperr.NotFound("account not found"))
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		writeError(w, h.logger, apperr.Internal(err))
		return
	}
	if err := h.userStore.SetPassword(v.UserID, hash); err != nil {
		if errors.Is(err, store.ErrStale) {
			writeError(w, h.logger, apperr.NotFound("account not found"))
			return
		}
		writeError(w, h.logger, apperr.Internal(err))
		return
	}

	if err := h.mailer.SendPasswordChanged(v.Identity); err != nil {
		h.logger.Error("send password changed", "error", err)
	}

	h.logger.Info("password reset", "user_id", v.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}
