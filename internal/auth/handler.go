package auth

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/redmonkez12/fintrack-api/internal/httputil"
	"github.com/redmonkez12/fintrack-api/internal/logging"
)

// Rate limit purposes. Each purpose gets its own per-IP window.
const (
	purposeRegister       = "register"
	purposeLogin          = "login"
	purposeVerifyCode     = "verify_two_factor"
	purposeForgotPassword = "forgot_password"
	purposeResend         = "resend_verification"
)

// Handler contains HTTP handlers for authentication endpoints
type Handler struct {
	service     *Service
	rateLimiter RateLimiter
	logger      *logging.Logger
}

func NewHandler(service *Service, rateLimiter RateLimiter, logger *logging.Logger) *Handler {
	return &Handler{
		service:     service,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email           string `json:"email" validate:"required,max=254"`
	Password        string `json:"password" validate:"required,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Username        string `json:"username,omitempty" validate:"omitempty,min=3,max=50"`
	Name            string `json:"name,omitempty" validate:"omitempty,max=100"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// VerifyTwoFactorRequest carries the emailed login code.
type VerifyTwoFactorRequest struct {
	Email string `json:"email" validate:"required"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// VerifyEmailRequest represents the email verification request
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// ForgotPasswordRequest represents the password reset request
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required"`
}

// ResetPasswordRequest represents the password reset confirmation
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,max=72"`
}

// ResendVerificationRequest represents the resend verification email request
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required"`
}

// TwoFactorSettingRequest toggles two-factor login for the caller.
type TwoFactorSettingRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// AuthResponse is returned by every endpoint that signs the user in.
type AuthResponse struct {
	User  PublicUser `json:"user"`
	Token string     `json:"token"`
}

// LoginResponse is either a signed-in session or a pending two-factor step.
type LoginResponse struct {
	User             *PublicUser `json:"user,omitempty"`
	Token            string      `json:"token,omitempty"`
	RequireTwoFactor bool        `json:"requireTwoFactor"`
}

// RegisterResponse omits the token when email verification is pending.
type RegisterResponse struct {
	User    PublicUser `json:"user"`
	Token   string     `json:"token,omitempty"`
	Message string     `json:"message,omitempty"`
}

// UserResponse wraps the caller's profile.
type UserResponse struct {
	User PublicUser `json:"user"`
}

// Register handles user registration
// @Summary      Register a new user
// @Description  Create a new account. Returns a session token unless email verification is required.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration details"
// @Success      201 {object} RegisterResponse
// @Failure      400 {object} httputil.ErrorResponse "Validation error, duplicate email or username"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	ip := getClientIP(r)
	if !h.allowIP(w, r, logger, ip, purposeRegister) {
		return
	}

	var req RegisterRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		logger.Warn("invalid registration request")
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	result, err := h.service.Register(r.Context(), RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Username:   req.Username,
		Name:       req.Name,
		ClientMeta: ClientMeta{IPAddress: ip, UserAgent: r.UserAgent()},
	})
	if err != nil {
		if h.respondValidation(w, err) {
			logger.Warn("registration failed: validation error", "error", err.Error())
			return
		}
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			logger.Warn("registration failed: email already exists")
			respondError(w, "email already exists", httputil.CodeEmailAlreadyExists, http.StatusBadRequest)
		case errors.Is(err, ErrDuplicateUsername):
			logger.Warn("registration failed: username already taken")
			respondError(w, "username already taken", httputil.CodeUsernameAlreadyExists, http.StatusBadRequest)
		default:
			logger.Error("registration failed: internal error", "error", err.Error())
			respondError(w, "failed to register user", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("user registered successfully", "user_id", result.User.ID)

	resp := RegisterResponse{User: result.User, Token: result.Token}
	if result.Token == "" {
		resp.Message = "Registration successful. Please check your email to verify your account."
	}
	respondJSON(w, resp, http.StatusCreated)
}

// Login handles user login
// @Summary      User login
// @Description  Authenticate with email and password. When two-factor login applies, a code is emailed and requireTwoFactor is true.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} LoginResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid credentials or email not verified"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	ip := getClientIP(r)
	if !h.allowIP(w, r, logger, ip, purposeLogin) {
		return
	}

	var req LoginRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		logger.Warn("invalid login request")
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	result, err := h.service.Login(r.Context(), LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		ClientMeta: ClientMeta{IPAddress: ip, UserAgent: r.UserAgent()},
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			logger.Warn("login failed: invalid credentials")
			respondError(w, "invalid email or password", httputil.CodeInvalidCredentials, http.StatusBadRequest)
		case errors.Is(err, ErrEmailNotVerified):
			logger.Warn("login failed: email not verified")
			respondError(w, "email not verified, please check your inbox", httputil.CodeEmailNotVerified, http.StatusBadRequest)
		case errors.Is(err, ErrAccountDisabled):
			logger.Warn("login failed: account disabled")
			respondError(w, "account is disabled", httputil.CodeAccountDisabled, http.StatusForbidden)
		default:
			logger.Error("login failed: internal error", "error", err.Error())
			respondError(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	if result.RequireTwoFactor {
		logger.Info("login pending two-factor code")
		respondJSON(w, LoginResponse{RequireTwoFactor: true}, http.StatusOK)
		return
	}

	logger.Info("user logged in successfully", "user_id", result.User.ID)
	respondJSON(w, LoginResponse{User: &result.User, Token: result.Token}, http.StatusOK)
}

// VerifyTwoFactor completes a two-factor login
// @Summary      Verify two-factor code
// @Description  Exchange the emailed six digit code for a session token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body VerifyTwoFactorRequest true "Email and code"
// @Success      200 {object} AuthResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid or expired code"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/verify-two-factor [post]
func (h *Handler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	ip := getClientIP(r)
	if !h.allowIP(w, r, logger, ip, purposeVerifyCode) {
		return
	}

	var req VerifyTwoFactorRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		logger.Warn("invalid two-factor request")
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	result, err := h.service.VerifyCode(r.Context(), req.Email, req.Code, ClientMeta{IPAddress: ip, UserAgent: r.UserAgent()})
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			logger.Warn("two-factor verification failed: unknown user")
			respondError(w, "user not found", httputil.CodeUserNotFound, http.StatusBadRequest)
		case errors.Is(err, ErrInvalidOrExpiredCode):
			logger.Warn("two-factor verification failed: invalid or expired code")
			respondError(w, "invalid or expired verification code", httputil.CodeInvalidCode, http.StatusBadRequest)
		default:
			logger.Error("two-factor verification failed: internal error", "error", err.Error())
			respondError(w, "failed to verify code", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("two-factor login completed", "user_id", result.User.ID)
	respondJSON(w, AuthResponse{User: result.User, Token: result.Token}, http.StatusOK)
}

// VerifyEmail handles email verification
// @Summary      Verify email address
// @Description  Verify a user's email address using the token sent via email
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body VerifyEmailRequest true "Verification token"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid, expired, or already used token"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/verify-email [post]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req VerifyEmailRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		logger.Warn("email verification failed: token missing")
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			logger.Warn("email verification failed: invalid or expired token")
			respondError(w, "invalid or expired verification token", httputil.CodeInvalidToken, http.StatusBadRequest)
			return
		}
		logger.Error("email verification failed: internal error", "error", err.Error())
		respondError(w, "failed to verify email", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("email verified successfully")
	httputil.RespondMessage(w, "Email verified successfully. You can now login.", http.StatusOK)
}

// ForgotPassword handles password reset requests
// @Summary      Request password reset
// @Description  Send a password reset link to the user's email. Always returns success to prevent email enumeration.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ForgotPasswordRequest true "Email address"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /auth/forgot-password [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ForgotPasswordRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		logger.Warn("invalid forgot password request")
		return
	}

	if !h.allowEmail(w, r, logger, purposeForgotPassword, req.Email) {
		return
	}

	// Process request (always returns nil for security)
	_ = h.service.RequestPasswordReset(r.Context(), req.Email)

	httputil.RespondMessage(w, "If an account exists with that email, a password reset link has been sent.", http.StatusOK)
}

// ResetPassword handles password reset with token
// @Summary      Reset password
// @Description  Reset a user's password using a valid reset token. Signs the user out of every session.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResetPasswordRequest true "Reset token and new password"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request or token"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/reset-password [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResetPasswordRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		logger.Warn("invalid reset password request")
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		if h.respondValidation(w, err) {
			logger.Warn("password reset failed: validation error", "error", err.Error())
			return
		}
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			logger.Warn("password reset failed: invalid or expired token")
			respondError(w, "invalid or expired reset token", httputil.CodeInvalidToken, http.StatusBadRequest)
			return
		}
		logger.Error("password reset failed: internal error", "error", err.Error())
		respondError(w, "failed to reset password", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("password reset successfully")
	httputil.RespondMessage(w, "Password reset successfully. You can now login with your new password.", http.StatusOK)
}

// ResendVerificationEmail handles resending verification email
// @Summary      Resend verification email
// @Description  Send a new verification email to the user. Always returns success to prevent email enumeration.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResendVerificationRequest true "Email address"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /auth/resend-verification [post]
func (h *Handler) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResendVerificationRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		logger.Warn("invalid resend verification request")
		return
	}

	if !h.allowEmail(w, r, logger, purposeResend, req.Email) {
		return
	}

	// Process request (always returns nil for security)
	_ = h.service.ResendVerificationEmail(r.Context(), req.Email)

	httputil.RespondMessage(w, "If your email is registered and not verified, a new verification link has been sent.", http.StatusOK)
}

// Logout handles user logout
// @Summary      User logout
// @Description  Revoke the session behind the bearer token
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} httputil.MessageResponse
// @Failure      401 {object} httputil.ErrorResponse "Not authenticated"
// @Router       /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	token, ok := GetTokenFromContext(r.Context())
	if !ok {
		respondError(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			respondError(w, "invalid token", httputil.CodeUnauthorized, http.StatusUnauthorized)
			return
		}
		logger.Error("logout failed: internal error", "error", err.Error())
		respondError(w, "failed to logout", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user logged out successfully")
	httputil.RespondMessage(w, "logged out", http.StatusOK)
}

// Me returns the authenticated user
// @Summary      Current user
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} UserResponse
// @Failure      401 {object} httputil.ErrorResponse "Not authenticated"
// @Router       /auth/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		respondError(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	u, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			respondError(w, "user not found", httputil.CodeUserNotFound, http.StatusUnauthorized)
			return
		}
		logger.Error("failed to load current user", "error", err.Error())
		respondError(w, "failed to load user", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	respondJSON(w, UserResponse{User: *u}, http.StatusOK)
}

// SetTwoFactor enables or disables two-factor login
// @Summary      Toggle two-factor login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body TwoFactorSettingRequest true "Desired setting"
// @Success      200 {object} UserResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      401 {object} httputil.ErrorResponse "Not authenticated"
// @Router       /auth/two-factor [put]
func (h *Handler) SetTwoFactor(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		respondError(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	var req TwoFactorSettingRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	u, err := h.service.SetTwoFactor(r.Context(), userID, *req.Enabled)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			respondError(w, "user not found", httputil.CodeUserNotFound, http.StatusUnauthorized)
			return
		}
		logger.Error("failed to update two-factor setting", "error", err.Error())
		respondError(w, "failed to update two-factor setting", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("two-factor setting updated", "user_id", userID, "enabled", *req.Enabled)
	respondJSON(w, UserResponse{User: *u}, http.StatusOK)
}

// allowIP checks and records the per-IP window for purpose. Limiter errors
// fail open.
func (h *Handler) allowIP(w http.ResponseWriter, r *http.Request, logger *logging.Logger, ip, purpose string) bool {
	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, purpose)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip, "purpose", purpose)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return false
	}

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, purpose); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}
	return true
}

// allowEmail applies the per-IP window and the per-address cooldown used by
// endpoints that send mail.
func (h *Handler) allowEmail(w http.ResponseWriter, r *http.Request, logger *logging.Logger, purpose, email string) bool {
	if !h.allowIP(w, r, logger, getClientIP(r), purpose) {
		return false
	}

	email = strings.ToLower(strings.TrimSpace(email))
	onCooldown, err := h.rateLimiter.CheckEmailCooldown(r.Context(), email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err.Error())
	} else if onCooldown {
		logger.Warn("email on cooldown", "email", email)
		respondError(w, "please wait before requesting another email", httputil.CodeCooldownActive, http.StatusTooManyRequests)
		return false
	}

	if err := h.rateLimiter.SetEmailCooldown(r.Context(), email); err != nil {
		logger.Error("failed to set email cooldown", "error", err.Error())
	}
	return true
}

// respondValidation maps input validation errors raised by the service.
func (h *Handler) respondValidation(w http.ResponseWriter, err error) bool {
	var code string
	switch {
	case errors.Is(err, ErrEmailRequired):
		code = httputil.CodeEmailRequired
	case errors.Is(err, ErrInvalidEmailFormat):
		code = httputil.CodeInvalidEmailFormat
	case errors.Is(err, ErrPasswordRequired):
		code = httputil.CodePasswordRequired
	case errors.Is(err, ErrPasswordTooLong):
		code = httputil.CodePasswordTooLong
	case errors.Is(err, ErrWeakPassword):
		code = httputil.CodeWeakPassword
	default:
		return false
	}
	respondError(w, err.Error(), code, http.StatusBadRequest)
	return true
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	httputil.RespondJSON(w, data, statusCode)
}

// respondError sends an error response with a machine-readable code
func respondError(w http.ResponseWriter, message string, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}

// getClientIP returns the host part of RemoteAddr. Proxy headers are applied
// to RemoteAddr by the router only when they are trusted.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
