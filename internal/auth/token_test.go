package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"docgate/internal/rbac"
)

const testSecret = "0123456789abcdef0123"

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	token, issued, err := issuer.Issue("  Avery ", rbac.RoleReviewer)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Name != "Avery" || claims.Role != "reviewer" || claims.Sub != "reviewer:avery" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.JTI != issued.JTI || claims.JTI == "" {
		t.Fatalf("jti = %q, issued %q", claims.JTI, issued.JTI)
	}
}

func TestIssueNormalizesUnknownRole(t *testing.T) {
	issuer, _ := NewIssuer(testSecret, time.Hour)
	_, claims, err := issuer.Issue("sam", rbac.Role("owner"))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if claims.Role != string(rbac.RoleViewer) {
		t.Fatalf("role = %q, want viewer", claims.Role)
	}
}

func TestVerifyRejects(t *testing.T) {
	issuer, _ := NewIssuer(testSecret, time.Hour)
	token, _, _ := issuer.Issue("avery", rbac.RoleAdmin)

	other, _ := NewIssuer("another-secret-entirely", time.Hour)
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret error = %v, want ErrInvalidToken", err)
	}

	payload, sig, _ := strings.Cut(token, ".")
	tampered := payload[:len(payload)-2] + "xx." + sig
	if _, err := issuer.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token error = %v, want ErrInvalidToken", err)
	}
	if _, err := issuer.Verify("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token error = %v, want ErrInvalidToken", err)
	}

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := issuer.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expired token error = %v, want ErrExpiredToken", err)
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer("short", time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestFingerprintIsStable(t *testing.T) {
	if Fingerprint("abc") != Fingerprint("abc") || len(Fingerprint("abc")) != 12 {
		t.Fatalf("unexpected fingerprint %q", Fingerprint("abc"))
	}
}
