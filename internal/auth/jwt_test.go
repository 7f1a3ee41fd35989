package auth

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

// TestGenerateAndValidateActorToken tests the round trip.
func TestGenerateAndValidateActorToken(t *testing.T) {
	svc := NewJWTService("test-secret")

	token, err := svc.GenerateActorToken("operator-1", RoleOperator)
	if err != nil {
		t.Fatalf("GenerateActorToken() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "operator-1" {
		t.Errorf("subject = %s, want operator-1", claims.Subject)
	}
	if claims.Role != RoleOperator {
		t.Errorf("role = %s, want operator", claims.Role)
	}
}

// TestGenerateActorToken_EmptyActor tests rejection of empty actor IDs.
func TestGenerateActorToken_EmptyActor(t *testing.T) {
	svc := NewJWTService("test-secret")

	if _, err := svc.GenerateActorToken("", RoleAdmin); !errors.Is(err, ErrEmptyActor) {
		t.Errorf("GenerateActorToken() error = %v, want ErrEmptyActor", err)
	}
}

// TestValidateToken_WrongSecret tests rejection of tokens signed elsewhere.
func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a").GenerateActorToken("operator-1", RoleOperator)
	if err != nil {
		t.Fatalf("GenerateActorToken() error = %v", err)
	}

	if _, err := NewJWTService("secret-b").ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
	}
}

// TestValidateToken_Garbage tests rejection of malformed tokens.
func TestValidateToken_Garbage(t *testing.T) {
	svc := NewJWTService("test-secret")

	for _, bad := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := svc.ValidateToken(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateToken(%q) error = %v, want ErrInvalidToken", bad, err)
		}
	}
}

// TestValidateToken_RejectsWrongAlgorithm tests that non-HS256 tokens fail
// even with a valid payload.
func TestValidateToken_RejectsWrongAlgorithm(t *testing.T) {
	claims := Claims{Role: RoleAdmin}
	claims.Subject = "operator-1"
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := NewJWTService("test-secret").ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
	}
}

// TestValidateToken_Rotation tests that tokens signed with the previous
// secret stay valid during rotation.
func TestValidateToken_Rotation(t *testing.T) {
	oldSvc := NewJWTService("old-secret")
	token, err := oldSvc.GenerateActorToken("operator-1", RoleOperator)
	if err != nil {
		t.Fatalf("GenerateActorToken() error = %v", err)
	}

	rotated := NewJWTServiceWithRotation("new-secret", "old-secret")
	claims, err := rotated.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() during rotation error = %v", err)
	}
	if claims.Subject != "operator-1" {
		t.Errorf("subject = %s, want operator-1", claims.Subject)
	}

	// After rotation completes the old secret no longer validates.
	finished := NewJWTService("new-secret")
	if _, err := finished.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken() after rotation error = %v, want ErrInvalidToken", err)
	}
}
