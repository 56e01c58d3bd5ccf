package auth

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, expiresAt, err := tm.GenerateToken("user-a", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(expiresAt) > 5*time.Minute {
		t.Fatalf("expiry too far: %s", expiresAt)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.SubjectID != "user-a" || claims.Name != "alice" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	tm := NewTokenManager("secret", 5)

	foreign, _, err := NewTokenManager("other", 5).GenerateToken("user-a", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tm.ParseToken(foreign); err == nil {
		t.Fatal("token signed with another secret accepted")
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		SubjectID: "user-a",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tm.ParseToken(signed); err == nil {
		t.Fatal("expired token accepted")
	}

	anonymous := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{})
	signed, err = anonymous.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tm.ParseToken(signed); err == nil {
		t.Fatal("token without subject accepted")
	}
}
