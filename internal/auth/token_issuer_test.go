package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meridianworks/meridian/backend/internal/model"
)

func TestIssueDeviceTokenRoundTrip(testContext *testing.T) {
	issuer := newTestIssuer(time.Now)

	token, expiresIn, err := issuer.IssueDeviceToken(context.Background(), mustUserID(testContext, "user-1"), mustDeviceID(testContext, "device-1"))
	if err != nil {
		testContext.Fatalf("issue failed: %v", err)
	}
	if expiresIn != int64(time.Hour.Seconds()) {
		testContext.Fatalf("expected one hour expiry, got %d seconds", expiresIn)
	}

	identity, err := issuer.ValidateToken(token)
	if err != nil {
		testContext.Fatalf("validate failed: %v", err)
	}
	if identity.UserID.String() != "user-1" {
		testContext.Fatalf("expected user-1, got %q", identity.UserID.String())
	}
	if identity.DeviceID.String() != "device-1" {
		testContext.Fatalf("expected device-1, got %q", identity.DeviceID.String())
	}
}

func TestIssueDeviceTokenRequiresIdentity(testContext *testing.T) {
	issuer := newTestIssuer(time.Now)

	if _, _, err := issuer.IssueDeviceToken(context.Background(), model.UserID(""), mustDeviceID(testContext, "device-1")); err == nil {
		testContext.Fatalf("expected missing subject to be rejected")
	}
	if _, _, err := issuer.IssueDeviceToken(context.Background(), mustUserID(testContext, "user-1"), model.DeviceID("")); err == nil {
		testContext.Fatalf("expected missing device to be rejected")
	}
}

func TestValidateTokenRejectsWrongSecret(testContext *testing.T) {
	issuer := newTestIssuer(time.Now)
	token, _, err := issuer.IssueDeviceToken(context.Background(), mustUserID(testContext, "user-1"), mustDeviceID(testContext, "device-1"))
	if err != nil {
		testContext.Fatalf("issue failed: %v", err)
	}

	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("a-different-secret"),
		Issuer:        "meridian-auth",
		Audience:      "meridian-api",
	})
	if _, err := other.ValidateToken(token); err == nil {
		testContext.Fatalf("expected signature mismatch to be rejected")
	}
}

func TestValidateTokenRejectsWrongAudience(testContext *testing.T) {
	foreign := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("sync-test-secret"),
		Issuer:        "meridian-auth",
		Audience:      "some-other-service",
		TokenTTL:      time.Hour,
	})
	token, _, err := foreign.IssueDeviceToken(context.Background(), mustUserID(testContext, "user-1"), mustDeviceID(testContext, "device-1"))
	if err != nil {
		testContext.Fatalf("issue failed: %v", err)
	}

	issuer := newTestIssuer(time.Now)
	if _, err := issuer.ValidateToken(token); err == nil {
		testContext.Fatalf("expected audience mismatch to be rejected")
	}
}

func TestValidateTokenRejectsUnsignedAlgorithm(testContext *testing.T) {
	claims := deviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "meridian-auth",
			Audience:  []string{"meridian-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		DeviceID: "device-1",
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		testContext.Fatalf("failed to build unsigned token: %v", err)
	}

	issuer := newTestIssuer(time.Now)
	if _, err := issuer.ValidateToken(unsigned); err == nil {
		testContext.Fatalf("expected unsigned token to be rejected")
	}
}

func TestValidateTokenRejectsMissingDeviceClaim(testContext *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "meridian-auth",
		Audience:  []string{"meridian-api"},
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("sync-test-secret"))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}

	issuer := newTestIssuer(time.Now)
	if _, err := issuer.ValidateToken(token); err == nil {
		testContext.Fatalf("expected token without device claim to be rejected")
	}
}

func TestValidateTokenRejectsExpiredToken(testContext *testing.T) {
	issuedAt := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(func() time.Time { return issuedAt })

	token, _, err := issuer.IssueDeviceToken(context.Background(), mustUserID(testContext, "user-1"), mustDeviceID(testContext, "device-1"))
	if err != nil {
		testContext.Fatalf("issue failed: %v", err)
	}

	later := newTestIssuer(func() time.Time { return issuedAt.Add(2 * time.Hour) })
	if _, err := later.ValidateToken(token); err == nil {
		testContext.Fatalf("expected expired token to be rejected")
	}
}

func newTestIssuer(clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("sync-test-secret"),
		Issuer:        "meridian-auth",
		Audience:      "meridian-api",
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
}

func mustUserID(testContext *testing.T, value string) model.UserID {
	testContext.Helper()
	id, err := model.NewUserID(value)
	if err != nil {
		testContext.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustDeviceID(testContext *testing.T, value string) model.DeviceID {
	testContext.Helper()
	id, err := model.NewDeviceID(value)
	if err != nil {
		testContext.Fatalf("unexpected device id error: %v", err)
	}
	return id
}
