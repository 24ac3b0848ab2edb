package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/quantleap/stockcast/internal/config"
	"github.com/quantleap/stockcast/internal/keystore"
	"github.com/quantleap/stockcast/internal/models"
)

type AuthHandler struct {
	store keystore.Store
	cfg   *config.Config
}

func NewAuthHandler(store keystore.Store, cfg *config.Config) *AuthHandler {
	return &AuthHandler{store: store, cfg: cfg}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type keyIssuedResponse struct {
	models.ApiKey
	// Secret is included only at issue/rotate/reveal time.
	Secret string `json:"secret"`
}

type signupResponse struct {
	Token     string            `json:"token"`
	Principal models.Principal  `json:"principal"`
	ApiKey    keyIssuedResponse `json:"api_key"`
}

// Signup registers a principal and issues their free key in one step.
// POST /api/v1/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	if len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	ctx := r.Context()
	principal, err := h.store.CreatePrincipal(ctx, req.Email, string(hash))
	if err != nil {
		if errors.Is(err, keystore.ErrEmailExists) {
			respondError(w, http.StatusConflict, "email already registered")
			return
		}
		log.Error().Err(err).Msg("Signup: create principal failed")
		respondError(w, statusForError(err), "failed to create account")
		return
	}

	// Every principal gets exactly one free key at signup.
	key, err := h.store.AddKey(ctx, principal.ID, keystore.KeySpec{
		Tier:        models.TierFree,
		MinuteLimit: h.cfg.FreeMinuteLimit,
		DayLimit:    h.cfg.FreeDayLimit,
		Name:        "default",
	})
	if err != nil {
		log.Error().Err(err).Str("principal_id", principal.ID).Msg("Signup: free key issue failed")
		respondError(w, statusForError(err), "failed to issue key")
		return
	}

	token, err := NewSessionToken(h.cfg.JWTSecret, principal.ID, principal.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	respondJSON(w, http.StatusCreated, signupResponse{
		Token:     token,
		Principal: *principal,
		ApiKey:    keyIssuedResponse{ApiKey: *key, Secret: key.Secret},
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string           `json:"token"`
	Principal models.Principal `json:"principal"`
}

// Login checks credentials and returns a session token.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	principal, err := h.store.FindPrincipalByEmail(r.Context(), req.Email)
	if err != nil {
		// Same answer for unknown email and bad password.
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(principal.CredentialHash), []byte(req.Password)) != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := NewSessionToken(h.cfg.JWTSecret, principal.ID, principal.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{Token: token, Principal: *principal})
}

// GetMe returns the authenticated principal.
// GET /api/v1/auth/me
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	principalID, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	principal, err := h.store.FindPrincipalByID(r.Context(), principalID)
	if err != nil {
		respondError(w, statusForError(err), "account not found")
		return
	}

	respondJSON(w, http.StatusOK, principal)
}
