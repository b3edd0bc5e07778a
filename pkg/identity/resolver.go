package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// TokenPrefix identifies crewsync session tokens
	TokenPrefix = "crew_"

	// MinSecretLength is the minimum signing secret size in bytes
	MinSecretLength = 32
)

// claims is the signed token payload
type claims struct {
	SubjectID   string `json:"sub"`
	Role        Role   `json:"role"`
	DisplayName string `json:"name,omitempty"`
	IssuedAt    int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
}

// Resolver validates and issues signed session tokens.
// Format: crew_<base64url(claims JSON)>.<base64url(HMAC-SHA256 signature)>
type Resolver struct {
	secret []byte
	ttl    time.Duration

	// now is overridable for tests
	now func() time.Time
}

// NewResolver creates a resolver with the given signing secret and token TTL
func NewResolver(secret []byte, ttl time.Duration) (*Resolver, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token TTL must be positive, got %s", ttl)
	}
	return &Resolver{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue creates a signed token for the given subject. Used by the login
// collaborator and by Refresh.
func (r *Resolver) Issue(subjectID string, role Role, displayName string) (string, error) {
	if subjectID == "" {
		return "", fmt.Errorf("subject id is required")
	}
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}

	now := r.now()
	payload, err := json.Marshal(claims{
		SubjectID:   subjectID,
		Role:        role,
		DisplayName: displayName,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(r.ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	sig := base64.RawURLEncoding.EncodeToString(r.sign(payload))

	return TokenPrefix + encoded + "." + sig, nil
}

// Resolve validates the token signature and expiry and returns the caller
// identity. The identity is built fresh from the token on every call.
func (r *Resolver) Resolve(token string) (*Identity, error) {
	c, err := r.verify(token)
	if err != nil {
		return nil, err
	}

	if r.now().Unix() >= c.ExpiresAt {
		return nil, ErrExpiredToken
	}

	return &Identity{
		SubjectID:   c.SubjectID,
		Role:        c.Role,
		DisplayName: c.DisplayName,
		IssuedAt:    time.Unix(c.IssuedAt, 0).UTC(),
		ExpiresAt:   time.Unix(c.ExpiresAt, 0).UTC(),
	}, nil
}

// Refresh issues a new token with a fresh expiry for a still-valid token.
// An expired token cannot be refreshed; the caller must log in again.
func (r *Resolver) Refresh(token string) (string, error) {
	ident, err := r.Resolve(token)
	if err != nil {
		return "", err
	}
	return r.Issue(ident.SubjectID, ident.Role, ident.DisplayName)
}

// verify checks format and signature and returns the decoded claims
func (r *Resolver) verify(token string) (*claims, error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return nil, ErrInvalidToken
	}

	body := strings.TrimPrefix(token, TokenPrefix)
	parts := strings.SplitN(body, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}

	if !hmac.Equal(sig, r.sign(payload)) {
		return nil, ErrInvalidToken
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, ErrInvalidToken
	}
	if c.SubjectID == "" || !c.Role.Valid() {
		return nil, ErrInvalidToken
	}

	return &c, nil
}

func (r *Resolver) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
