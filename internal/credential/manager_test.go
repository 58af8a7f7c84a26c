package credential

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/common/cache"
	"github.com/lyzr/workflows/common/logger"
	"github.com/lyzr/workflows/internal/model"
	"github.com/stretchr/testify/require"
)

var errCredentialNotFound = errors.New("credential not found")

type fakeStore struct {
	credentials map[uuid.UUID]*model.Credential
	audits      []model.CredentialAuditLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{credentials: make(map[uuid.UUID]*model.Credential)}
}

func (s *fakeStore) GetCredential(ctx context.Context, id uuid.UUID) (*model.Credential, error) {
	cred, ok := s.credentials[id]
	if !ok {
		return nil, errCredentialNotFound
	}
	return cred, nil
}

func (s *fakeStore) UpdateCredential(ctx context.Context, c *model.Credential) error {
	s.credentials[c.ID] = c
	return nil
}

func (s *fakeStore) AppendCredentialAudit(ctx context.Context, entry model.CredentialAuditLog) error {
	s.audits = append(s.audits, entry)
	return nil
}

func mustCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, 32)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func seedCredential(t *testing.T, store *fakeStore, c *Cipher, userID string, fields map[string]interface{}) uuid.UUID {
	t.Helper()
	return seedTypedCredential(t, store, c, userID, model.CredentialAPIKey, fields)
}

func seedTypedCredential(t *testing.T, store *fakeStore, c *Cipher, userID string, typ model.CredentialType, fields map[string]interface{}) uuid.UUID {
	t.Helper()
	plaintext, err := json.Marshal(fields)
	require.NoError(t, err)

	nonce := make([]byte, 12)
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	id := uuid.New()
	store.credentials[id] = &model.Credential{
		ID:            id,
		UserID:        userID,
		Name:          "test-credential",
		Type:          typ,
		EncryptedBlob: c.Encrypt(plaintext, nonce),
		Nonce:         nonce,
	}
	return id
}

func TestManagerResolveDecryptsAndCaches(t *testing.T) {
	store := newFakeStore()
	c := mustCipher(t)
	id := seedCredential(t, store, c, "user-1", map[string]interface{}{"apiKey": "sk-test-123"})

	mgr := NewManager(store, c, cache.NewMemoryCache(logger.New("error", "json")))

	fields, err := mgr.Resolve(context.Background(), "user-1", id)
	require.NoError(t, err)
	require.Equal(t, "sk-test-123", fields["apiKey"])

	fields2, err := mgr.Resolve(context.Background(), "user-1", id)
	require.NoError(t, err)
	require.Equal(t, "sk-test-123", fields2["apiKey"])

	require.Len(t, store.audits, 2)
	require.Equal(t, model.AuditDecrypt, store.audits[0].Action)
	require.Equal(t, model.AuditFetch, store.audits[1].Action)
}

func TestManagerResolveRejectsOwnerMismatch(t *testing.T) {
	store := newFakeStore()
	c := mustCipher(t)
	id := seedCredential(t, store, c, "user-1", map[string]interface{}{"apiKey": "sk-test-123"})

	mgr := NewManager(store, c, cache.NewMemoryCache(logger.New("error", "json")))

	_, err := mgr.Resolve(context.Background(), "someone-else", id)
	require.Error(t, err)
}

func TestManagerInvalidateForcesRedecrypt(t *testing.T) {
	store := newFakeStore()
	c := mustCipher(t)
	id := seedCredential(t, store, c, "user-1", map[string]interface{}{"apiKey": "sk-test-123"})

	mgr := NewManager(store, c, cache.NewMemoryCache(logger.New("error", "json")))

	_, err := mgr.Resolve(context.Background(), "user-1", id)
	require.NoError(t, err)

	mgr.Invalidate(context.Background(), "user-1", id)

	_, err = mgr.Resolve(context.Background(), "user-1", id)
	require.NoError(t, err)
	require.Len(t, store.audits, 3, "invalidation should force a second decrypt audit entry")
}

func TestManagerResolveRefreshesExpiredOAuthToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.FormValue("grant_type"))
		require.Equal(t, "old-refresh-token", r.FormValue("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "new-access-token",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	store := newFakeStore()
	c := mustCipher(t)
	id := seedTypedCredential(t, store, c, "user-1", model.CredentialOAuth2, map[string]interface{}{
		"accessToken":  "old-access-token",
		"refreshToken": "old-refresh-token",
		"tokenUrl":     server.URL,
		"expiresAt":    time.Now().Add(-time.Minute).Format(time.RFC3339),
	})

	mgr := NewManager(store, c, cache.NewMemoryCache(logger.New("error", "json")))

	fields, err := mgr.Resolve(context.Background(), "user-1", id)
	require.NoError(t, err)
	require.Equal(t, "new-access-token", fields["accessToken"])
	require.Equal(t, "old-refresh-token", fields["refreshToken"], "a refresh response without a new refresh token keeps the old one")

	var sawRefreshAudit bool
	for _, a := range store.audits {
		if a.Action == model.AuditRefresh {
			sawRefreshAudit = true
			require.True(t, a.Success)
		}
	}
	require.True(t, sawRefreshAudit, "a successful refresh must be audited")

	persisted := store.credentials[id]
	require.NotEmpty(t, persisted.EncryptedBlob)
	plaintext, err := c.Decrypt(persisted.EncryptedBlob, persisted.Nonce)
	require.NoError(t, err)
	var persistedFields map[string]interface{}
	require.NoError(t, json.Unmarshal(plaintext, &persistedFields))
	require.Equal(t, "new-access-token", persistedFields["accessToken"], "the refreshed token must be persisted back to the store, not just returned")
}

func TestManagerResolveLeavesUnexpiredOAuthTokenAlone(t *testing.T) {
	store := newFakeStore()
	c := mustCipher(t)
	id := seedTypedCredential(t, store, c, "user-1", model.CredentialOAuth2, map[string]interface{}{
		"accessToken":  "still-valid",
		"refreshToken": "refresh-token",
		"tokenUrl":     "http://should-not-be-called.invalid",
		"expiresAt":    time.Now().Add(time.Hour).Format(time.RFC3339),
	})

	mgr := NewManager(store, c, cache.NewMemoryCache(logger.New("error", "json")))

	fields, err := mgr.Resolve(context.Background(), "user-1", id)
	require.NoError(t, err)
	require.Equal(t, "still-valid", fields["accessToken"])

	for _, a := range store.audits {
		require.NotEqual(t, model.AuditRefresh, a.Action, "a token that isn't near expiry must not trigger a refresh attempt")
	}
}

func TestManagerResolveSurvivesFailedOAuthRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := newFakeStore()
	c := mustCipher(t)
	id := seedTypedCredential(t, store, c, "user-1", model.CredentialOAuth2, map[string]interface{}{
		"accessToken":  "stale-access-token",
		"refreshToken": "stale-refresh-token",
		"tokenUrl":     server.URL,
		"expiresAt":    time.Now().Add(-time.Minute).Format(time.RFC3339),
	})

	mgr := NewManager(store, c, cache.NewMemoryCache(logger.New("error", "json")))

	fields, err := mgr.Resolve(context.Background(), "user-1", id)
	require.NoError(t, err, "a failed refresh should still serve the stale token rather than fail the whole resolve")
	require.Equal(t, "stale-access-token", fields["accessToken"])

	var sawFailedRefreshAudit bool
	for _, a := range store.audits {
		if a.Action == model.AuditRefresh {
			sawFailedRefreshAudit = true
			require.False(t, a.Success)
		}
	}
	require.True(t, sawFailedRefreshAudit)
}
