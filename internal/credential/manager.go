// Package credential decrypts stored credentials on demand and caches the
// plaintext briefly so a workflow that touches the same credential across
// many nodes doesn't re-run AES-GCM and a store round trip every time. It
// mirrors the teacher's common/cache.Cache interface rather than inventing a
// new one, so the same MemoryCache (or a future Redis-backed Cache) can back
// it without change.
package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/common/cache"
	"github.com/lyzr/workflows/internal/model"
)

// decryptTTL bounds how long a decrypted credential stays in memory. Short
// enough that a leaked cache entry doesn't outlive the workflow run that
// needed it by much, long enough that a node-heavy workflow touching the
// same credential repeatedly doesn't pay the decrypt cost every time.
const decryptTTL = 2 * time.Minute

// Store is the subset of persistence the manager needs; the postgres-backed
// implementation lives in internal/store/postgres.
type Store interface {
	GetCredential(ctx context.Context, id uuid.UUID) (*model.Credential, error)
	UpdateCredential(ctx context.Context, c *model.Credential) error
	AppendCredentialAudit(ctx context.Context, entry model.CredentialAuditLog) error
}

// oauthRefreshSkew triggers a refresh slightly before the stored expiry, so a
// node's outbound call doesn't race a token that expires mid-request.
const oauthRefreshSkew = 30 * time.Second

// oauthTokenResponse is the refresh_token grant response body; every OAuth2
// provider a credential can be configured against returns this shape.
type oauthTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Cipher decrypts a credential's EncryptedBlob using Nonce as the AES-GCM
// nonce. Keyed by a single server-wide master key, never by user.
type Cipher struct {
	gcm cipher.AEAD
}

func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential: invalid master key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential: could not init gcm: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

func (c *Cipher) Decrypt(blob, nonce []byte) ([]byte, error) {
	return c.gcm.Open(nil, nonce, blob, nil)
}

func (c *Cipher) Encrypt(plaintext, nonce []byte) []byte {
	return c.gcm.Seal(nil, nonce, plaintext, nil)
}

// plaintextPayload is what lives inside EncryptedBlob once decrypted: the
// field map a node's resolver substitutes into config (apiKey, username,
// password, etc, depending on CredentialType).
type plaintextPayload map[string]interface{}

// Manager resolves a credential ID to usable plaintext fields, decrypting at
// most once per decryptTTL window and recording every access for compliance.
type Manager struct {
	store      Store
	cipher     *Cipher
	cache      cache.Cache
	httpClient *http.Client
}

func NewManager(store Store, cipher *Cipher, c cache.Cache) *Manager {
	return &Manager{store: store, cipher: cipher, cache: c, httpClient: http.DefaultClient}
}

// WithHTTPClient overrides the client used for OAuth refresh requests.
func (m *Manager) WithHTTPClient(client *http.Client) *Manager {
	m.httpClient = client
	return m
}

func cacheKey(userID string, credentialID uuid.UUID) string {
	return fmt.Sprintf("credential:%s:%s", userID, credentialID)
}

// Resolve returns the decrypted field map for credentialID, owned by userID.
// It never returns EncryptedBlob or Nonce to the caller.
func (m *Manager) Resolve(ctx context.Context, userID string, credentialID uuid.UUID) (map[string]interface{}, error) {
	key := cacheKey(userID, credentialID)

	if raw, hit, err := m.cache.Get(ctx, key); err == nil && hit {
		var payload plaintextPayload
		if jsonErr := json.Unmarshal(raw, &payload); jsonErr == nil {
			m.audit(ctx, credentialID, userID, model.AuditFetch, true, "served from cache")
			return payload, nil
		}
	}

	cred, err := m.store.GetCredential(ctx, credentialID)
	if err != nil {
		m.audit(ctx, credentialID, userID, model.AuditFetch, false, err.Error())
		return nil, fmt.Errorf("credential: lookup failed: %w", err)
	}
	if cred.UserID != userID {
		m.audit(ctx, credentialID, userID, model.AuditFetch, false, "owner mismatch")
		return nil, fmt.Errorf("credential: %s is not owned by the requesting user", credentialID)
	}

	plaintext, err := m.cipher.Decrypt(cred.EncryptedBlob, cred.Nonce)
	if err != nil {
		m.audit(ctx, credentialID, userID, model.AuditDecrypt, false, err.Error())
		return nil, fmt.Errorf("credential: decrypt failed: %w", err)
	}

	var payload plaintextPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		m.audit(ctx, credentialID, userID, model.AuditDecrypt, false, "malformed plaintext payload")
		return nil, fmt.Errorf("credential: malformed plaintext: %w", err)
	}

	if cred.Type == model.CredentialOAuth2 {
		cred.OAuthAccessToken, _ = payload["accessToken"].(string)
		cred.OAuthRefreshToken, _ = payload["refreshToken"].(string)
		cred.OAuthExpiresAt = oauthExpiry(payload)

		if refreshed, err := m.refreshIfExpired(ctx, cred, payload); err != nil {
			m.audit(ctx, credentialID, userID, model.AuditRefresh, false, err.Error())
		} else if refreshed != nil {
			payload = refreshed
			m.audit(ctx, credentialID, userID, model.AuditRefresh, true, "")
		}
	}

	if raw, err := json.Marshal(payload); err == nil {
		_ = m.cache.Set(ctx, key, raw, decryptTTL)
	}

	m.audit(ctx, credentialID, userID, model.AuditDecrypt, true, "")
	return payload, nil
}

// refreshIfExpired exchanges a near-expired OAuth refresh token for a new
// access token and persists the re-encrypted pair, mirroring the teacher's
// refresh_oauth_token. It returns a nil payload (no error) whenever a refresh
// isn't due yet, or when the stored fields aren't enough to attempt one — a
// credential missing a tokenUrl or refreshToken is just served as-is.
func (m *Manager) refreshIfExpired(ctx context.Context, cred *model.Credential, payload plaintextPayload) (plaintextPayload, error) {
	if cred.OAuthExpiresAt == nil || time.Now().Add(oauthRefreshSkew).Before(*cred.OAuthExpiresAt) {
		return nil, nil
	}
	refreshToken := cred.OAuthRefreshToken
	tokenURL, _ := payload["tokenUrl"].(string)
	if refreshToken == "" || tokenURL == "" {
		return nil, nil
	}

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refreshToken}}
	if clientID, ok := payload["clientId"].(string); ok {
		form.Set("client_id", clientID)
	}
	if clientSecret, ok := payload["clientSecret"].(string); ok {
		form.Set("client_secret", clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh failed with status %d", resp.StatusCode)
	}

	var tok oauthTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access_token")
	}

	updated := make(plaintextPayload, len(payload))
	for k, v := range payload {
		updated[k] = v
	}
	updated["accessToken"] = tok.AccessToken
	refreshedToken := tok.RefreshToken
	if refreshedToken == "" {
		refreshedToken = refreshToken
	}
	updated["refreshToken"] = refreshedToken
	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	newExpiry := time.Now().Add(time.Duration(expiresIn) * time.Second)
	updated["expiresAt"] = newExpiry.Format(time.RFC3339)

	updatedPlaintext, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("marshal refreshed payload: %w", err)
	}
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	cred.EncryptedBlob = m.cipher.Encrypt(updatedPlaintext, nonce)
	cred.Nonce = nonce
	cred.OAuthAccessToken = tok.AccessToken
	cred.OAuthRefreshToken = refreshedToken
	cred.OAuthExpiresAt = &newExpiry
	if err := m.store.UpdateCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	return updated, nil
}

// oauthExpiry reads the RFC3339 "expiresAt" field a resolved OAuth payload
// carries, or nil if absent or unparsable.
func oauthExpiry(payload plaintextPayload) *time.Time {
	raw, ok := payload["expiresAt"].(string)
	if !ok || raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// Invalidate drops the cached plaintext for a credential, called after an
// update so a subsequent Resolve re-decrypts against the new ciphertext.
func (m *Manager) Invalidate(ctx context.Context, userID string, credentialID uuid.UUID) {
	_ = m.cache.Delete(ctx, cacheKey(userID, credentialID))
}

func (m *Manager) audit(ctx context.Context, credentialID uuid.UUID, userID string, action model.CredentialAuditAction, success bool, detail string) {
	entry := model.CredentialAuditLog{
		ID:           uuid.New(),
		CredentialID: credentialID,
		UserID:       userID,
		Action:       action,
		Success:      success,
		Detail:       detail,
		CreatedAt:    time.Now(),
	}
	if err := m.store.AppendCredentialAudit(ctx, entry); err != nil {
		_ = err // audit logging must never block credential resolution
	}
}
