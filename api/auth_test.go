package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestLocalAuthRoundTrip(t *testing.T) {
	auth := NewLocalAuth([]byte("round-trip-secret"))

	token, err := auth.IssueToken("carl")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	user, err := auth.UserFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if user != "carl" {
		t.Fatalf("expected carl, got %q", user)
	}
}

func TestAuthHeaderParsing(t *testing.T) {
	auth := NewLocalAuth([]byte("secret"))

	cases := []string{"", "Bearer", "Basic abc", "token-without-scheme"}
	for _, h := range cases {
		if _, err := auth.UserFromAuthHeader(h); err == nil {
			t.Fatalf("header %q should have been rejected", h)
		}
	}
}

func TestWrongSecretRejected(t *testing.T) {
	issuer := NewLocalAuth([]byte("secret-a"))
	verifier := NewLocalAuth([]byte("secret-b"))

	token, err := issuer.IssueToken("carl")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := verifier.UserFromToken(token); err == nil {
		t.Fatal("token signed with a different secret must not verify")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	auth := NewLocalAuth([]byte("secret"))

	claims := jwt.MapClaims{
		"sub": "carl",
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(auth.LocalSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := auth.UserFromToken(token); err == nil {
		t.Fatal("expired token must not verify")
	}
}

func TestTokenWithoutSubjectRejected(t *testing.T) {
	auth := NewLocalAuth([]byte("secret"))

	claims := jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(auth.LocalSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := auth.UserFromToken(token); err == nil {
		t.Fatal("token without sub must not verify")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !CheckPassword(hash, "hunter2") {
		t.Fatal("correct password rejected")
	}
	if CheckPassword(hash, "hunter3") {
		t.Fatal("wrong password accepted")
	}
}
