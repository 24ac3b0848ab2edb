package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/stockcast/internal/config"
	"github.com/quantleap/stockcast/internal/handlers"
	"github.com/quantleap/stockcast/internal/keystore"
)

func testConfig() *config.Config {
	return &config.Config{
		FreeMinuteLimit: 5,
		FreeDayLimit:    25,
		JWTSecret:       "test-secret",
	}
}

func newAuthRouter(store keystore.Store, cfg *config.Config) *chi.Mux {
	h := handlers.NewAuthHandler(store, cfg)
	r := chi.NewRouter()
	r.Post("/api/v1/auth/signup", h.Signup)
	r.Post("/api/v1/auth/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(handlers.SessionAuth(cfg.JWTSecret))
		r.Get("/api/v1/auth/me", h.GetMe)
	})
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSignup_IssuesFreeKey(t *testing.T) {
	router := newAuthRouter(keystore.NewMemory(), testConfig())

	rec := postJSON(t, router, "/api/v1/auth/signup", map[string]string{
		"email":    "Alice@Example.com",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Token     string `json:"token"`
		Principal struct {
			Email string `json:"email"`
		} `json:"principal"`
		ApiKey struct {
			Tier        string `json:"tier"`
			MinuteLimit int    `json:"minute_limit"`
			DayLimit    int    `json:"day_limit"`
			Name        string `json:"name"`
			Secret      string `json:"secret"`
		} `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice@example.com", resp.Principal.Email)
	assert.Equal(t, "free", resp.ApiKey.Tier)
	assert.Equal(t, 5, resp.ApiKey.MinuteLimit)
	assert.Equal(t, 25, resp.ApiKey.DayLimit)
	assert.Equal(t, "default", resp.ApiKey.Name)
	assert.True(t, strings.HasPrefix(resp.ApiKey.Secret, "sc_"))
}

func TestSignup_DuplicateEmail(t *testing.T) {
	router := newAuthRouter(keystore.NewMemory(), testConfig())
	body := map[string]string{"email": "alice@example.com", "password": "correct-horse"}

	require.Equal(t, http.StatusCreated, postJSON(t, router, "/api/v1/auth/signup", body, nil).Code)
	assert.Equal(t, http.StatusConflict, postJSON(t, router, "/api/v1/auth/signup", body, nil).Code)
}

func TestSignup_Validation(t *testing.T) {
	router := newAuthRouter(keystore.NewMemory(), testConfig())

	rec := postJSON(t, router, "/api/v1/auth/signup", map[string]string{"email": "not-an-email", "password": "correct-horse"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, "/api/v1/auth/signup", map[string]string{"email": "alice@example.com", "password": "short"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	store := keystore.NewMemory()
	router := newAuthRouter(store, testConfig())
	creds := map[string]string{"email": "alice@example.com", "password": "correct-horse"}
	require.Equal(t, http.StatusCreated, postJSON(t, router, "/api/v1/auth/signup", creds, nil).Code)

	rec := postJSON(t, router, "/api/v1/auth/login", creds, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)

	// Unknown email and wrong password answer identically.
	wrongPassword := postJSON(t, router, "/api/v1/auth/login", map[string]string{"email": "alice@example.com", "password": "wrong-password"}, nil)
	unknownEmail := postJSON(t, router, "/api/v1/auth/login", map[string]string{"email": "nobody@example.com", "password": "correct-horse"}, nil)
	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestGetMe(t *testing.T) {
	router := newAuthRouter(keystore.NewMemory(), testConfig())
	rec := postJSON(t, router, "/api/v1/auth/signup", map[string]string{"email": "alice@example.com", "password": "correct-horse"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	got := httptest.NewRecorder()
	router.ServeHTTP(got, req)
	require.Equal(t, http.StatusOK, got.Code)

	var me struct {
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &me))
	assert.Equal(t, "alice@example.com", me.Email)
}

func TestGetMe_RejectsBadToken(t *testing.T) {
	router := newAuthRouter(keystore.NewMemory(), testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
