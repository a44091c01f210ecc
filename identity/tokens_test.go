package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssuer_RoundTrip(t *testing.T) {
	iss := NewIssuer("test-secret")

	token, err := iss.Issue("user-1", false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.ID != "user-1" || id.Admin {
		t.Fatalf("expected plain user-1, got %+v", id)
	}

	adminToken, _ := iss.Issue("admin-1", true)
	id, err = iss.Verify(adminToken)
	if err != nil {
		t.Fatalf("verify admin: %v", err)
	}
	if !id.Admin {
		t.Fatalf("expected admin identity, got %+v", id)
	}
}

func TestIssuer_RejectsForeignAndExpiredTokens(t *testing.T) {
	iss := NewIssuer("test-secret")
	other := NewIssuer("other-secret")

	foreign, _ := other.Issue("user-1", true)
	if _, err := iss.Verify(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong key, got %v", err)
	}

	past := time.Now().Add(-48 * time.Hour)
	stale := NewIssuer("test-secret").WithClock(func() time.Time { return past })
	expired, _ := stale.Issue("user-1", false)
	if _, err := iss.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	if _, err := iss.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestIssuer_RejectsUnknownRole(t *testing.T) {
	claims := jwt.MapClaims{
		"user_id": "user-1",
		"role":    "superuser",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewIssuer("test-secret").Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIssuer_EmptySecret(t *testing.T) {
	if _, err := NewIssuer("").Issue("user-1", false); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}
