package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shoplane/accounts/internal/domain"
	"github.com/shoplane/accounts/internal/handlers"
	"github.com/shoplane/accounts/internal/service"
	"github.com/shoplane/accounts/pkg/auth"
	"github.com/shoplane/accounts/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ---------- Mocks ----------

type mockUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]*domain.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{nextID: 1, users: make(map[string]*domain.User)}
}

func (m *mockUserRepo) Create(_ context.Context, req *domain.CreateUserRequest, passwordHash string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[req.Email]; exists {
		return nil, domain.ErrDuplicateEmail
	}
	u := &domain.User{
		ID:           m.nextID,
		Role:         req.Role,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Name:         req.Name,
		Preferences:  domain.Preferences{NotificationsEnabled: true},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.nextID++
	m.users[req.Email] = u
	clone := *u
	return &clone, nil
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[email]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, nil
}

func (m *mockUserRepo) FindByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			clone := *u
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) MarkVerified(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			u.IsVerified = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, userID int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			u.PasswordHash = passwordHash
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockUserRepo) UpdateProfile(_ context.Context, userID int64, req *domain.UpdateProfileRequest) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			if req.Name != nil {
				u.Name = *req.Name
			}
			clone := *u
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockUserRepo) UpdatePreferences(_ context.Context, userID int64, req *domain.UpdatePreferencesRequest) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			if req.NotificationsEnabled != nil {
				u.Preferences.NotificationsEnabled = *req.NotificationsEnabled
			}
			if req.DarkMode != nil {
				u.Preferences.DarkMode = *req.DarkMode
			}
			if req.NewsletterSubscribed != nil {
				u.Preferences.NewsletterSubscribed = *req.NewsletterSubscribed
			}
			clone := *u
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockUserRepo) UpdateRole(_ context.Context, userID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			u.Role = role
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockUserRepo) List(_ context.Context, limit, offset int) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []domain.User
	for _, u := range m.users {
		users = append(users, *u)
	}
	return users, nil
}

type storedCode struct {
	codeHash  string
	expiresAt time.Time
}

type mockCodeRepo struct {
	mu    sync.Mutex
	codes map[string]storedCode
}

func newMockCodeRepo() *mockCodeRepo {
	return &mockCodeRepo{codes: make(map[string]storedCode)}
}

func (m *mockCodeRepo) Upsert(_ context.Context, email, purpose, codeHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[email+"|"+purpose] = storedCode{codeHash: codeHash, expiresAt: expiresAt}
	return nil
}

func (m *mockCodeRepo) Consume(_ context.Context, email, code, purpose string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := email + "|" + purpose
	sc, ok := m.codes[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(sc.expiresAt) {
		delete(m.codes, key)
		return false, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(sc.codeHash), []byte(code)) != nil {
		return false, nil
	}
	delete(m.codes, key)
	return true, nil
}

func (m *mockCodeRepo) DeleteExpired(_ context.Context) (int64, error) { return 0, nil }

type mockMailer struct {
	mu        sync.Mutex
	lastCode  string
	resetCode string
}

func (m *mockMailer) SendVerificationCode(toEmail, toName, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCode = code
	return nil
}

func (m *mockMailer) SendPasswordResetCode(toEmail, toName, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCode = code
	return nil
}

type mockRateLimiter struct {
	deny bool
}

func (m *mockRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	return !m.deny, nil
}

// ---------- Test setup ----------

const testSecret = "test-secret"

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:           testSecret,
			SessionTTL:          24 * time.Hour,
			VerificationCodeTTL: 10 * time.Minute,
			ResetCodeTTL:        15 * time.Minute,
		},
		App: config.AppConfig{Env: "dev"},
	}
}

func setupTestServer(t *testing.T, limiter *mockRateLimiter) (*httptest.Server, *mockUserRepo, *mockMailer) {
	t.Helper()

	userRepo := newMockUserRepo()
	codeRepo := newMockCodeRepo()
	m := &mockMailer{}
	cfg := testConfig()

	authService := service.NewAuthService(userRepo, codeRepo, m, nil, cfg)
	accountService := service.NewAccountService(userRepo)
	h := handlers.New(authService, accountService, limiter, cfg)

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.RateLimit(10, time.Minute))
			r.Post("/auth/register", h.Register)
			r.Post("/auth/login", h.Login)
			r.Post("/auth/verify-email", h.VerifyEmail)
			r.Post("/auth/resend-verification", h.ResendVerification)
			r.Post("/auth/forgot-password", h.ForgotPassword)
			r.Post("/auth/reset-password", h.ResetPassword)
		})
		r.Post("/auth/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)
			r.Get("/me", h.Me)
			r.Patch("/me", h.UpdateProfile)
			r.Patch("/me/preferences", h.UpdatePreferences)
			r.Post("/me/password", h.ChangePassword)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireRole("admin"))
				r.Get("/users", h.ListUsers)
			})
		})
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, userRepo, m
}

func postJSON(t *testing.T, url string, data interface{}, expectedStatus int) *http.Response {
	t.Helper()

	body, err := json.Marshal(data)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s", url)

	return resp
}

func registerAndVerify(t *testing.T, server *httptest.Server, m *mockMailer, email, password string) {
	t.Helper()

	resp := postJSON(t, server.URL+"/v1/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"name":     "Test User",
	}, http.StatusCreated)
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/v1/auth/verify-email", map[string]string{
		"email": email,
		"code":  m.lastCode,
	}, http.StatusOK)
	resp.Body.Close()
}

func login(t *testing.T, server *httptest.Server, email, password string) *http.Cookie {
	t.Helper()

	resp := postJSON(t, server.URL+"/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, http.StatusOK)
	defer resp.Body.Close()

	for _, c := range resp.Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

// ---------- Tests ----------

func TestRegisterVerifyLogin_HappyPath(t *testing.T) {
	server, _, m := setupTestServer(t, &mockRateLimiter{})

	resp := postJSON(t, server.URL+"/v1/auth/register", map[string]string{
		"email":    "u@test.com",
		"password": "secret123",
		"name":     "Test User",
	}, http.StatusCreated)

	var regResult struct {
		User domain.UserInfo `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&regResult))
	resp.Body.Close()

	assert.False(t, regResult.User.IsVerified)
	assert.Equal(t, "user", regResult.User.Role)
	require.Len(t, m.lastCode, 6)

	resp = postJSON(t, server.URL+"/v1/auth/verify-email", map[string]string{
		"email": "u@test.com",
		"code":  m.lastCode,
	}, http.StatusOK)
	resp.Body.Close()

	cookie := login(t, server, "u@test.com", "secret123")

	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Positive(t, cookie.MaxAge)

	claims, err := auth.Parse(cookie.Value, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user", claims.Role)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	server, _, _ := setupTestServer(t, &mockRateLimiter{})

	body := map[string]string{"email": "u@test.com", "password": "secret123", "name": "A"}
	postJSON(t, server.URL+"/v1/auth/register", body, http.StatusCreated).Body.Close()
	resp := postJSON(t, server.URL+"/v1/auth/register", body, http.StatusBadRequest)
	defer resp.Body.Close()

	var errResult map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResult))
	assert.Equal(t, "EMAIL_EXISTS", errResult["code"])
}

func TestLogin_Unverified(t *testing.T) {
	server, _, _ := setupTestServer(t, &mockRateLimiter{})

	postJSON(t, server.URL+"/v1/auth/register", map[string]string{
		"email": "u@test.com", "password": "secret123", "name": "A",
	}, http.StatusCreated).Body.Close()

	resp := postJSON(t, server.URL+"/v1/auth/login", map[string]string{
		"email": "u@test.com", "password": "secret123",
	}, http.StatusForbidden)
	defer resp.Body.Close()

	var errResult map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResult))
	assert.Equal(t, "NOT_VERIFIED", errResult["code"])
}

func TestLogin_InvalidCredentialsIndistinguishable(t *testing.T) {
	server, _, m := setupTestServer(t, &mockRateLimiter{})
	registerAndVerify(t, server, m, "a@x.com", "secret123")

	wrongPass := postJSON(t, server.URL+"/v1/auth/login", map[string]string{
		"email": "a@x.com", "password": "wrongwrong",
	}, http.StatusUnauthorized)
	var body1 map[string]string
	require.NoError(t, json.NewDecoder(wrongPass.Body).Decode(&body1))
	wrongPass.Body.Close()

	noUser := postJSON(t, server.URL+"/v1/auth/login", map[string]string{
		"email": "nouser@x.com", "password": "anything1",
	}, http.StatusUnauthorized)
	var body2 map[string]string
	require.NoError(t, json.NewDecoder(noUser.Body).Decode(&body2))
	noUser.Body.Close()

	assert.Equal(t, body1, body2)
}

func TestPasswordResetFlow(t *testing.T) {
	server, _, m := setupTestServer(t, &mockRateLimiter{})
	registerAndVerify(t, server, m, "u@test.com", "oldsecret1")

	postJSON(t, server.URL+"/v1/auth/forgot-password", map[string]string{
		"email": "u@test.com",
	}, http.StatusOK).Body.Close()
	require.Len(t, m.resetCode, 6)

	postJSON(t, server.URL+"/v1/auth/reset-password", map[string]string{
		"email":        "u@test.com",
		"code":         m.resetCode,
		"new_password": "newsecret1",
	}, http.StatusOK).Body.Close()

	// Old password rejected, new accepted.
	postJSON(t, server.URL+"/v1/auth/login", map[string]string{
		"email": "u@test.com", "password": "oldsecret1",
	}, http.StatusUnauthorized).Body.Close()
	login(t, server, "u@test.com", "newsecret1")
}

func TestForgotPassword_UnknownEmailGeneric(t *testing.T) {
	server, _, m := setupTestServer(t, &mockRateLimiter{})

	resp := postJSON(t, server.URL+"/v1/auth/forgot-password", map[string]string{
		"email": "nobody@test.com",
	}, http.StatusOK)
	resp.Body.Close()
	assert.Empty(t, m.resetCode)
}

func TestMe_RequiresSession(t *testing.T) {
	server, _, m := setupTestServer(t, &mockRateLimiter{})

	resp, err := http.Get(server.URL + "/v1/me")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	registerAndVerify(t, server, m, "u@test.com", "secret123")
	cookie := login(t, server, "u@test.com", "secret123")

	req, _ := http.NewRequest("GET", server.URL+"/v1/me", nil)
	req.AddCookie(cookie)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info domain.UserInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "u@test.com", info.Email)
}

func TestUpdatePreferences(t *testing.T) {
	server, _, m := setupTestServer(t, &mockRateLimiter{})
	registerAndVerify(t, server, m, "u@test.com", "secret123")
	cookie := login(t, server, "u@test.com", "secret123")

	body, _ := json.Marshal(map[string]bool{"dark_mode": true})
	req, _ := http.NewRequest("PATCH", server.URL+"/v1/me/preferences", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info domain.UserInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.True(t, info.Preferences.DarkMode)
	// Untouched fields keep their values.
	assert.True(t, info.Preferences.NotificationsEnabled)
}

func TestAdminRoutes_ForbiddenForUserRole(t *testing.T) {
	server, _, m := setupTestServer(t, &mockRateLimiter{})
	registerAndVerify(t, server, m, "u@test.com", "secret123")
	cookie := login(t, server, "u@test.com", "secret123")

	req, _ := http.NewRequest("GET", server.URL+"/v1/admin/users", nil)
	req.AddCookie(cookie)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLogout_ClearsCookie(t *testing.T) {
	server, _, m := setupTestServer(t, &mockRateLimiter{})
	registerAndVerify(t, server, m, "u@test.com", "secret123")
	login(t, server, "u@test.com", "secret123")

	resp, err := http.Post(server.URL+"/v1/auth/logout", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == "session" {
			cleared = true
			assert.Negative(t, c.MaxAge)
			assert.Empty(t, c.Value)
		}
	}
	assert.True(t, cleared, "logout should reset the session cookie")
}

func TestRateLimit_Denied(t *testing.T) {
	server, _, _ := setupTestServer(t, &mockRateLimiter{deny: true})

	resp := postJSON(t, server.URL+"/v1/auth/login", map[string]string{
		"email": "u@test.com", "password": "secret123",
	}, http.StatusTooManyRequests)
	resp.Body.Close()
}

func TestBearerTokenFallback(t *testing.T) {
	server, _, m := setupTestServer(t, &mockRateLimiter{})
	registerAndVerify(t, server, m, "u@test.com", "secret123")
	cookie := login(t, server, "u@test.com", "secret123")

	req, _ := http.NewRequest("GET", server.URL+"/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+cookie.Value)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest("GET", server.URL+"/v1/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
