package identity

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestNewResolver(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r, err := NewResolver(testSecret(), time.Hour)
		if err != nil {
			t.Fatalf("NewResolver failed: %v", err)
		}
		if r == nil {
			t.Fatal("expected resolver")
		}
	})

	t.Run("short secret", func(t *testing.T) {
		_, err := NewResolver([]byte("too-short"), time.Hour)
		if err == nil {
			t.Error("expected error for short secret")
		}
	})

	t.Run("non-positive ttl", func(t *testing.T) {
		_, err := NewResolver(testSecret(), 0)
		if err == nil {
			t.Error("expected error for zero TTL")
		}
	})
}

func TestResolver_IssueAndResolve(t *testing.T) {
	r, err := NewResolver(testSecret(), time.Hour)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	token, err := r.Issue("u-17", RoleAdmin, "Pat Keller")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !strings.HasPrefix(token, TokenPrefix) {
		t.Errorf("token %q missing prefix %q", token, TokenPrefix)
	}

	ident, err := r.Resolve(token)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ident.SubjectID != "u-17" {
		t.Errorf("SubjectID = %q, want u-17", ident.SubjectID)
	}
	if ident.Role != RoleAdmin {
		t.Errorf("Role = %q, want admin", ident.Role)
	}
	if !ident.IsAdmin() {
		t.Error("IsAdmin() = false for admin role")
	}
	if ident.ExpiresAt.Before(ident.IssuedAt) {
		t.Error("expiry before issue time")
	}
}

func TestResolver_Issue_Invalid(t *testing.T) {
	r, _ := NewResolver(testSecret(), time.Hour)

	if _, err := r.Issue("", RoleUser, ""); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, err := r.Issue("u-1", Role("superuser"), ""); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestResolver_Resolve_InvalidToken(t *testing.T) {
	r, _ := NewResolver(testSecret(), time.Hour)

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no prefix", "bogus"},
		{"missing signature", TokenPrefix + "eyJzdWIiOiJ4In0"},
		{"bad base64 payload", TokenPrefix + "!!!.c2ln"},
		{"bad base64 signature", TokenPrefix + "eyJzdWIiOiJ4In0.!!!"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(tc.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Resolve(%q) error = %v, want ErrInvalidToken", tc.token, err)
			}
		})
	}
}

func TestResolver_Resolve_TamperedSignature(t *testing.T) {
	r, _ := NewResolver(testSecret(), time.Hour)
	other, _ := NewResolver([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)

	token, err := other.Issue("u-9", RoleUser, "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Signed with a different secret: signature must not verify.
	if _, err := r.Resolve(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Resolve error = %v, want ErrInvalidToken", err)
	}
}

func TestResolver_Resolve_Expired(t *testing.T) {
	r, _ := NewResolver(testSecret(), time.Minute)

	past := time.Now().Add(-2 * time.Hour)
	r.now = func() time.Time { return past }
	token, err := r.Issue("u-3", RoleUser, "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	r.now = time.Now
	if _, err := r.Resolve(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Resolve error = %v, want ErrExpiredToken", err)
	}
}

func TestResolver_Refresh(t *testing.T) {
	r, _ := NewResolver(testSecret(), time.Hour)

	issued := time.Now().Add(-30 * time.Minute)
	r.now = func() time.Time { return issued }
	token, err := r.Issue("u-5", RoleUser, "M. Osei")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	r.now = time.Now
	refreshed, err := r.Refresh(token)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	ident, err := r.Resolve(refreshed)
	if err != nil {
		t.Fatalf("Resolve of refreshed token failed: %v", err)
	}
	if ident.SubjectID != "u-5" || ident.Role != RoleUser {
		t.Errorf("refreshed claims = %+v, want same subject and role", ident)
	}
	if time.Until(ident.ExpiresAt) < 55*time.Minute {
		t.Errorf("refreshed expiry %s not extended", ident.ExpiresAt)
	}
}

func TestResolver_Refresh_ExpiredNotAllowed(t *testing.T) {
	r, _ := NewResolver(testSecret(), time.Minute)

	past := time.Now().Add(-time.Hour)
	r.now = func() time.Time { return past }
	token, _ := r.Issue("u-5", RoleUser, "")

	r.now = time.Now
	if _, err := r.Refresh(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Refresh error = %v, want ErrExpiredToken", err)
	}
}

func TestIdentity_ExpiresSoon(t *testing.T) {
	ident := &Identity{ExpiresAt: time.Now().Add(2 * time.Minute)}
	if !ident.ExpiresSoon(5 * time.Minute) {
		t.Error("ExpiresSoon(5m) = false for token expiring in 2m")
	}
	if ident.ExpiresSoon(time.Minute) {
		t.Error("ExpiresSoon(1m) = true for token expiring in 2m")
	}
}
