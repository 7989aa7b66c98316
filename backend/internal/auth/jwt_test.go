package auth

import (
	"testing"
	"time"
)

func TestSignAndParseAccessToken(t *testing.T) {
	token, expiresAt, err := SignAccessToken(42, "ana", time.Minute)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiresAt %v already past", expiresAt)
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != 42 || claims.Username != "ana" || claims.Type != "access" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseToken_Invalid(t *testing.T) {
	if _, err := ParseToken("not.a.token"); err == nil {
		t.Fatalf("ParseToken() accepted garbage")
	}

	// 过期令牌必须被拒绝
	token, _, err := SignAccessToken(1, "u", -time.Minute)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}
	if _, err := ParseToken(token); err == nil {
		t.Fatalf("ParseToken() accepted expired token")
	}
}
