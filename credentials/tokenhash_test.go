package credentials

import (
	"errors"
	"strings"
	"testing"
)

func TestHashToken_RoundTrip(t *testing.T) {
	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if !strings.HasPrefix(token, "mw_") {
		t.Errorf("token %q missing prefix", token)
	}

	encoded, err := HashToken(token)
	if err != nil {
		t.Fatalf("HashToken() error = %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=65536,t=1,p=4$") {
		t.Errorf("unexpected encoding %q", encoded)
	}

	ok, err := VerifyToken(token, encoded)
	if err != nil || !ok {
		t.Errorf("VerifyToken(correct) = %v, %v", ok, err)
	}

	ok, err = VerifyToken(token+"x", encoded)
	if err != nil || ok {
		t.Errorf("VerifyToken(wrong) = %v, %v", ok, err)
	}
}

func TestHashToken_Salted(t *testing.T) {
	a, _ := HashToken("same")
	b, _ := HashToken("same")
	if a == b {
		t.Error("hashes of the same token should differ by salt")
	}
}

func TestHashToken_Empty(t *testing.T) {
	if _, err := HashToken(""); err == nil {
		t.Error("HashToken(\"\") expected error")
	}
}

func TestVerifyToken_InvalidHash(t *testing.T) {
	tests := []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=19$garbage$c2FsdA$a2V5",
		"$argon2id$v=19$m=65536,t=1,p=4$!!!$a2V5",
		"$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$",
	}
	for _, encoded := range tests {
		_, err := VerifyToken("token", encoded)
		if !errors.Is(err, ErrInvalidHash) {
			t.Errorf("VerifyToken(%q) error = %v, want ErrInvalidHash", encoded, err)
		}
	}
}
