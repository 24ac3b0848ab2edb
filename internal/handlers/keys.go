package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/quantleap/stockcast/internal/billing"
	"github.com/quantleap/stockcast/internal/keystore"
	"github.com/quantleap/stockcast/internal/models"
)

type KeyHandler struct {
	store      keystore.Store
	reconciler *billing.Reconciler
}

func NewKeyHandler(store keystore.Store, reconciler *billing.Reconciler) *KeyHandler {
	return &KeyHandler{store: store, reconciler: reconciler}
}

type keyListItem struct {
	models.ApiKey
	MaskedSecret string `json:"masked_secret"`
}

// ownedKey loads the key from the URL and checks it belongs to the caller.
// Foreign keys answer 404, not 403: key ids of other accounts are not a
// thing callers get to confirm.
func (h *KeyHandler) ownedKey(w http.ResponseWriter, r *http.Request) (*models.Principal, *models.ApiKey, bool) {
	principalID, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return nil, nil, false
	}

	keyID := chi.URLParam(r, "id")
	key, err := h.store.GetKey(r.Context(), keyID)
	if err != nil {
		respondError(w, statusForError(err), "key not found")
		return nil, nil, false
	}
	if key.OwnerID != principalID {
		respondError(w, http.StatusNotFound, "key not found")
		return nil, nil, false
	}

	principal, err := h.store.FindPrincipalByID(r.Context(), principalID)
	if err != nil {
		respondError(w, statusForError(err), "account not found")
		return nil, nil, false
	}
	return principal, key, true
}

// ListKeys returns the caller's keys, secrets masked.
// GET /api/v1/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	principalID, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keys, err := h.store.ListKeys(r.Context(), principalID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list keys")
		respondError(w, statusForError(err), "failed to list keys")
		return
	}

	items := make([]keyListItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, keyListItem{ApiKey: k, MaskedSecret: k.MaskedSecret()})
	}
	respondJSON(w, http.StatusOK, items)
}

// RenameKey updates a key's display name.
// PUT /api/v1/keys/{id}
func (h *KeyHandler) RenameKey(w http.ResponseWriter, r *http.Request) {
	_, key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.store.Rename(r.Context(), key.ID, req.Name); err != nil {
		respondError(w, statusForError(err), "failed to rename key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateKey swaps the secret. The old secret is dead the moment this
// returns; the new one is handed back exactly once here.
// POST /api/v1/keys/{id}/rotate
func (h *KeyHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	_, key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}

	secret, err := h.store.Rotate(r.Context(), key.ID)
	if err != nil {
		log.Error().Err(err).Str("key_id", key.ID).Msg("Failed to rotate key")
		respondError(w, statusForError(err), "failed to rotate key")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": key.ID, "secret": secret})
}

// RevealKey shows the secret once. A second reveal of the same secret value
// is refused until the key is rotated.
// POST /api/v1/keys/{id}/reveal
func (h *KeyHandler) RevealKey(w http.ResponseWriter, r *http.Request) {
	_, key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}

	secret, err := h.store.RevealSecret(r.Context(), key.ID)
	if err != nil {
		respondError(w, statusForError(err), "secret already revealed; rotate to get a new one")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": key.ID, "secret": secret})
}

// DeleteKey removes a paid key after the removal guard passes. Free keys
// are refused outright; an active or unverifiable external subscription
// blocks removal until the caller cancels it processor-side.
// DELETE /api/v1/keys/{id}
func (h *KeyHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	principal, key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}

	if err := h.reconciler.GuardRemoval(r.Context(), principal, key); err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}

	if err := h.store.Remove(r.Context(), key.ID); err != nil {
		log.Error().Err(err).Str("key_id", key.ID).Msg("Failed to remove key")
		respondError(w, statusForError(err), "failed to remove key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
