package crypto

import (
	"strings"
	"testing"
)

func TestHasherDigestStable(t *testing.T) {
	h, err := NewHasher([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	d1 := h.Digest("123-45-6789")
	d2 := h.Digest("  123-45-6789 ")
	d3 := h.Digest("123-45-6780")

	if d1 != d2 {
		t.Error("digest should be stable under whitespace normalization")
	}
	if d1 == d3 {
		t.Error("different values must not collide")
	}
	if len(d1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(d1))
	}
	if strings.Contains(d1, "123") && strings.Contains(d1, "6789") {
		t.Error("digest should not embed the plaintext")
	}
}

func TestHasherRejectsShortKey(t *testing.T) {
	if _, err := NewHasher([]byte("short")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestHasherCaseInsensitive(t *testing.T) {
	h, _ := NewHasher([]byte("0123456789abcdef"))
	if h.Digest("ab12cd") != h.Digest("AB12CD") {
		t.Error("digest should be case-insensitive")
	}
}

func TestEncryptorRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "a-32-byte-key-for-testing-only!!")
	e, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	ct, err := e.Encrypt("987-65-4321")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ct == "987-65-4321" {
		t.Fatal("ciphertext equals plaintext")
	}

	pt, err := e.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if pt != "987-65-4321" {
		t.Errorf("round trip mismatch: got %q", pt)
	}
}

func TestEncryptorRejectsBadKey(t *testing.T) {
	if _, err := NewEncryptor([]byte("too-short")); err == nil {
		t.Fatal("expected error for non-32-byte key")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	key := make([]byte, 32)
	e, _ := NewEncryptor(key)
	if _, err := e.Decrypt("not-base64!!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := e.Decrypt("YWJj"); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}
