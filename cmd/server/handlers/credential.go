package handlers

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/workflows/cmd/server/container"
	"github.com/lyzr/workflows/cmd/server/middleware"
	"github.com/lyzr/workflows/internal/model"
)

// CredentialHandler serves the credential CRUD surface; EncryptedBlob and
// Nonce never leave the server, only the decrypted fields a verify call needs
// to prove connectivity with.
type CredentialHandler struct {
	c      *container.Container
	cipher credentialCipher
}

// credentialCipher is the subset of internal/credential.Cipher this handler
// needs for encrypting new credential payloads; kept as an interface so tests
// can substitute a fake.
type credentialCipher interface {
	Encrypt(plaintext, nonce []byte) []byte
}

func NewCredentialHandler(c *container.Container, cipher credentialCipher) *CredentialHandler {
	return &CredentialHandler{c: c, cipher: cipher}
}

// Types lists the credential types the platform understands.
// GET /credentials/types/
func (h *CredentialHandler) Types(c echo.Context) error {
	return c.JSON(http.StatusOK, []model.CredentialType{
		model.CredentialAPIKey,
		model.CredentialOAuth2,
		model.CredentialBasic,
		model.CredentialBearer,
		model.CredentialCustom,
	})
}

type createCredentialRequest struct {
	Name   string                 `json:"name"`
	Type   model.CredentialType   `json:"type"`
	Fields map[string]interface{} `json:"fields"`
}

// List returns the caller's credentials, without decrypted material.
// GET /credentials/
func (h *CredentialHandler) List(c echo.Context) error {
	creds, err := h.c.Store.ListCredentials(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": "failed to list credentials"})
	}
	return c.JSON(http.StatusOK, redactAll(creds))
}

// Create encrypts and persists a new credential.
// POST /credentials/
func (h *CredentialHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	var req createCredentialRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}
	if req.Name == "" || req.Type == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "name and type are required"})
	}

	plaintext, err := json.Marshal(req.Fields)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid fields payload"})
	}

	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": "failed to generate nonce"})
	}

	cred := &model.Credential{
		ID:            uuid.New(),
		UserID:        middleware.UserID(c),
		Name:          req.Name,
		Type:          req.Type,
		EncryptedBlob: h.cipher.Encrypt(plaintext, nonce),
		Nonce:         nonce,
	}
	if err := h.c.Store.CreateCredential(ctx, cred); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": fmt.Sprintf("failed to create credential: %v", err)})
	}
	return c.JSON(http.StatusCreated, redact(*cred))
}

// Update replaces a credential's plaintext fields and invalidates its cache entry.
// PUT /credentials/{id}/
func (h *CredentialHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid credential id"})
	}
	existing, err := h.c.Store.GetCredential(ctx, id)
	if err != nil || existing.UserID != middleware.UserID(c) {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "credential not found"})
	}

	var req createCredentialRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}
	plaintext, err := json.Marshal(req.Fields)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid fields payload"})
	}
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": "failed to generate nonce"})
	}

	if req.Name != "" {
		existing.Name = req.Name
	}
	existing.EncryptedBlob = h.cipher.Encrypt(plaintext, nonce)
	existing.Nonce = nonce

	if err := h.c.Store.UpdateCredential(ctx, existing); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": fmt.Sprintf("failed to update credential: %v", err)})
	}
	h.c.Credential.Invalidate(ctx, existing.UserID, existing.ID)
	return c.JSON(http.StatusOK, redact(*existing))
}

// Delete removes a credential.
// DELETE /credentials/{id}/
func (h *CredentialHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid credential id"})
	}
	existing, err := h.c.Store.GetCredential(ctx, id)
	if err != nil || existing.UserID != middleware.UserID(c) {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "credential not found"})
	}
	if err := h.c.Store.DeleteCredential(ctx, id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": "failed to delete credential"})
	}
	h.c.Credential.Invalidate(ctx, existing.UserID, existing.ID)
	return c.NoContent(http.StatusNoContent)
}

// Verify decrypts a credential and reports whether it can be resolved, without
// exposing the decrypted fields.
// POST /credentials/{id}/verify
func (h *CredentialHandler) Verify(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid credential id"})
	}
	userID := middleware.UserID(c)
	if _, err := h.c.Credential.Resolve(ctx, userID, id); err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"valid": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"valid": true})
}

func redact(cred model.Credential) map[string]interface{} {
	return map[string]interface{}{
		"id":        cred.ID,
		"userId":    cred.UserID,
		"name":      cred.Name,
		"type":      cred.Type,
		"createdAt": cred.CreatedAt,
		"updatedAt": cred.UpdatedAt,
	}
}

func redactAll(creds []model.Credential) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(creds))
	for _, cred := range creds {
		out = append(out, redact(cred))
	}
	return out
}
