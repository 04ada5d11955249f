package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/fintrack-api/internal/httputil"
	"github.com/redmonkez12/fintrack-api/internal/logging"
	"github.com/redmonkez12/fintrack-api/internal/ratelimit"
)

// stubLimiter lets tests force the limiter's answers.
type stubLimiter struct {
	exceeded   bool
	onCooldown bool
	recorded   []string
}

func (l *stubLimiter) CheckIPRateLimitWithPurpose(context.Context, string, string) (bool, error) {
	return l.exceeded, nil
}

func (l *stubLimiter) RecordIPRequestWithPurpose(_ context.Context, _, purpose string) error {
	l.recorded = append(l.recorded, purpose)
	return nil
}

func (l *stubLimiter) CheckEmailCooldown(context.Context, string) (bool, error) {
	return l.onCooldown, nil
}

func (l *stubLimiter) SetEmailCooldown(context.Context, string) error { return nil }

func newTestRouter(env *testEnv, limiter RateLimiter) http.Handler {
	h := NewHandler(env.svc, limiter, logging.Discard())
	m := NewMiddleware(env.svc)

	r := chi.NewRouter()
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/verify-two-factor", h.VerifyTwoFactor)
	r.Post("/verify-email", h.VerifyEmail)
	r.Post("/forgot-password", h.ForgotPassword)
	r.Post("/reset-password", h.ResetPassword)
	r.Post("/resend-verification", h.ResendVerificationEmail)
	r.Group(func(r chi.Router) {
		r.Use(m.RequireAuth)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
		r.Put("/two-factor", h.SetTwoFactor)
	})
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandler_RegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env, ratelimit.NewMemoryLimiter(ratelimit.DefaultConfig()))

	rec := doJSON(t, router, http.MethodPost, "/register", map[string]string{
		"email":           "a@x.com",
		"password":        "Secret1!",
		"confirmPassword": "Secret1!",
		"username":        "alice",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	reg := decode[RegisterResponse](t, rec)
	assert.True(t, reg.User.EmailVerified)
	assert.NotEmpty(t, reg.Token)

	rec = doJSON(t, router, http.MethodPost, "/register", map[string]string{
		"email":           "a@x.com",
		"password":        "Other1!",
		"confirmPassword": "Other1!",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeEmailAlreadyExists, decode[httputil.ErrorResponse](t, rec).Code)

	rec = doJSON(t, router, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeInvalidCredentials, decode[httputil.ErrorResponse](t, rec).Code)

	rec = doJSON(t, router, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "Secret1!"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	login := decode[LoginResponse](t, rec)
	assert.False(t, login.RequireTwoFactor)
	require.NotNil(t, login.User)

	claims, err := env.tokens.VerifyToken(login.Token)
	require.NoError(t, err)
	assert.Equal(t, login.User.ID, claims.UserID)
}

func TestHandler_RegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env, &stubLimiter{})

	tests := []struct {
		name      string
		body      any
		wantCode  string
		wantField string
	}{
		{
			name:      "mismatched confirmation",
			body:      map[string]string{"email": "a@x.com", "password": "Secret1!", "confirmPassword": "Secret2!"},
			wantCode:  httputil.CodeValidationFailed,
			wantField: "confirmPassword",
		},
		{
			name:      "missing email",
			body:      map[string]string{"password": "Secret1!", "confirmPassword": "Secret1!"},
			wantCode:  httputil.CodeValidationFailed,
			wantField: "email",
		},
		{
			name:     "malformed email",
			body:     map[string]string{"email": "nope", "password": "Secret1!", "confirmPassword": "Secret1!"},
			wantCode: httputil.CodeInvalidEmailFormat,
		},
		{
			name:     "weak password",
			body:     map[string]string{"email": "a@x.com", "password": "aaaa", "confirmPassword": "aaaa"},
			wantCode: httputil.CodeWeakPassword,
		},
		{
			name:     "not json",
			body:     "just a string",
			wantCode: httputil.CodeInvalidRequestBody,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/register", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			resp := decode[httputil.ErrorResponse](t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantField != "" {
				assert.Contains(t, resp.Fields, tt.wantField)
			}
		})
	}
}

func TestHandler_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env, &stubLimiter{exceeded: true})

	rec := doJSON(t, router, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "Secret1!"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, httputil.CodeTooManyRequests, decode[httputil.ErrorResponse](t, rec).Code)
}

func TestHandler_VerifyTwoFactorLimitIgnoresForwardedFor(t *testing.T) {
	env := newTestEnv(t, func(p *Policy) { p.RequireTwoFactor = true })
	router := newTestRouter(env, ratelimit.NewMemoryLimiter(ratelimit.Config{
		MaxRequests:   2,
		Window:        time.Hour,
		EmailCooldown: time.Minute,
	}))
	env.register(t, "a@x.com", "Secret1!")

	statuses := map[int]int{}
	for i := 0; i < 10; i++ {
		body, err := json.Marshal(map[string]string{"email": "a@x.com", "code": "000000"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/verify-two-factor", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.RemoteAddr = "192.0.2.1:4000"

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		statuses[rec.Code]++
	}

	assert.Equal(t, 2, statuses[http.StatusBadRequest])
	assert.Equal(t, 8, statuses[http.StatusTooManyRequests])
}

func TestHandler_ForgotPasswordIsNonCommittal(t *testing.T) {
	env := newTestEnv(t)
	limiter := &stubLimiter{}
	router := newTestRouter(env, limiter)
	env.register(t, "a@x.com", "Secret1!")

	known := doJSON(t, router, http.MethodPost, "/forgot-password", map[string]string{"email": "a@x.com"}, "")
	unknown := doJSON(t, router, http.MethodPost, "/forgot-password", map[string]string{"email": "nobody@x.com"}, "")

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Equal(t, []string{purposeForgotPassword, purposeForgotPassword}, limiter.recorded)

	limiter.onCooldown = true
	rec := doJSON(t, router, http.MethodPost, "/forgot-password", map[string]string{"email": "a@x.com"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, httputil.CodeCooldownActive, decode[httputil.ErrorResponse](t, rec).Code)
}

func TestHandler_ResetPasswordFlow(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env, &stubLimiter{})
	env.register(t, "a@x.com", "Secret1!")

	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/forgot-password", map[string]string{"email": "a@x.com"}, "").Code)
	env.svc.Wait()
	token := env.mail.last(t, "password_reset").secret

	rec := doJSON(t, router, http.MethodPost, "/reset-password", map[string]string{"token": token, "password": "NewPass1!"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/reset-password", map[string]string{"token": token, "password": "NewPass1!"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeInvalidToken, decode[httputil.ErrorResponse](t, rec).Code)
}

func TestHandler_TwoFactorFlow(t *testing.T) {
	env := newTestEnv(t, func(p *Policy) { p.RequireTwoFactor = true })
	router := newTestRouter(env, &stubLimiter{})
	env.register(t, "a@x.com", "Secret1!")

	rec := doJSON(t, router, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "Secret1!"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"requireTwoFactor":true}`, rec.Body.String())

	env.svc.Wait()
	code := env.mail.last(t, "two_factor").secret

	rec = doJSON(t, router, http.MethodPost, "/verify-two-factor", map[string]string{"email": "a@x.com", "code": "12ab56"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeValidationFailed, decode[httputil.ErrorResponse](t, rec).Code)

	rec = doJSON(t, router, http.MethodPost, "/verify-two-factor", map[string]string{"email": "a@x.com", "code": code}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[AuthResponse](t, rec).Token)

	rec = doJSON(t, router, http.MethodPost, "/verify-two-factor", map[string]string{"email": "a@x.com", "code": code}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeInvalidCode, decode[httputil.ErrorResponse](t, rec).Code)
}

func TestHandler_VerifyEmail(t *testing.T) {
	env := newTestEnv(t, func(p *Policy) { p.AutoVerifyEmail = false })
	router := newTestRouter(env, &stubLimiter{})

	rec := doJSON(t, router, http.MethodPost, "/register", map[string]string{
		"email": "a@x.com", "password": "Secret1!", "confirmPassword": "Secret1!",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	reg := decode[RegisterResponse](t, rec)
	assert.Empty(t, reg.Token)
	assert.NotEmpty(t, reg.Message)

	rec = doJSON(t, router, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "Secret1!"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeEmailNotVerified, decode[httputil.ErrorResponse](t, rec).Code)

	env.svc.Wait()
	token := env.mail.last(t, "verification").secret

	rec = doJSON(t, router, http.MethodPost, "/verify-email", map[string]string{"token": token}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/verify-email", map[string]string{"token": token}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ProtectedRoutes(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env, &stubLimiter{})
	reg := env.register(t, "a@x.com", "Secret1!")

	rec := doJSON(t, router, http.MethodGet, "/me", nil, reg.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reg.User.ID, decode[UserResponse](t, rec).User.ID)

	rec = doJSON(t, router, http.MethodPut, "/two-factor", map[string]bool{"enabled": true}, reg.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[UserResponse](t, rec).User.TwoFactorEnabled)

	rec = doJSON(t, router, http.MethodPut, "/two-factor", map[string]string{}, reg.Token)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "enabled is required")

	rec = doJSON(t, router, http.MethodPost, "/logout", nil, reg.Token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/me", nil, reg.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "token is revoked by logout")

	rec = doJSON(t, router, http.MethodPost, "/logout", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded header ignored", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:1234", "10.0.0.1"},
		{"real ip header ignored", map[string]string{"X-Real-IP": "203.0.113.8"}, "10.0.0.1:1234", "10.0.0.1"},
		{"bare remote addr", nil, "192.0.2.9", "192.0.2.9"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"ipv6 remote addr", nil, "[2001:db8::1]:443", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
