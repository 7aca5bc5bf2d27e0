package utils

import (
	"testing"
)

func TestJwtGenerateValidateRoundTrip(t *testing.T) {
	token, err := JwtGenerate(42, "admin")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	parsed, err := JwtValidate(token)
	if err != nil {
		t.Fatalf("JwtValidate: %v", err)
	}
	if !parsed.Valid {
		t.Fatalf("freshly issued token must validate")
	}

	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok {
		t.Fatalf("unexpected claims type %T", parsed.Claims)
	}
	if claims.ID != 42 || claims.Role != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestJwtValidateRejectsTamperedToken(t *testing.T) {
	token, err := JwtGenerate(1, "member")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := JwtValidate(tampered); err == nil {
		t.Fatalf("expected validation error for tampered signature")
	}

	if _, err := JwtValidate("not-a-jwt"); err == nil {
		t.Fatalf("expected validation error for garbage input")
	}
}
