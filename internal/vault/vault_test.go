package vault

import (
	"bytes"
	"errors"
	"testing"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	v, err := New(key)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return v
}

func TestVault_RoundTrip(t *testing.T) {
	v := testVault(t)

	plaintexts := []string{
		"",
		"a",
		"customer@example.com",
		"unicode: café ☕",
		string(bytes.Repeat([]byte("x"), 4096)),
	}

	for _, pt := range plaintexts {
		sealed, err := v.Encrypt([]byte(pt))
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", pt, err)
		}
		got, err := v.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt(%q) failed: %v", pt, err)
		}
		if string(got) != pt {
			t.Errorf("round trip mismatch: got %q want %q", got, pt)
		}
	}
}

func TestVault_NonceNeverReused(t *testing.T) {
	v := testVault(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sealed, err := v.Encrypt([]byte("same plaintext"))
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if seen[string(sealed.IV)] {
			t.Fatal("nonce reused across encryptions")
		}
		seen[string(sealed.IV)] = true
	}
}

func TestVault_TamperDetection(t *testing.T) {
	v := testVault(t)

	sealed, err := v.Encrypt([]byte("sensitive"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	flip := func(b []byte) []byte {
		out := append([]byte(nil), b...)
		out[0] ^= 0x01
		return out
	}

	cases := map[string]Sealed{
		"ciphertext": {Ciphertext: flip(sealed.Ciphertext), IV: sealed.IV, Tag: sealed.Tag},
		"iv":         {Ciphertext: sealed.Ciphertext, IV: flip(sealed.IV), Tag: sealed.Tag},
		"tag":        {Ciphertext: sealed.Ciphertext, IV: sealed.IV, Tag: flip(sealed.Tag)},
	}

	for name, tampered := range cases {
		if _, err := v.Decrypt(tampered); !errors.Is(err, ErrIntegrity) {
			t.Errorf("tampered %s: expected ErrIntegrity, got %v", name, err)
		}
	}
}

func TestVault_WrongKey(t *testing.T) {
	v1 := testVault(t)
	v2, err := New(bytes.Repeat([]byte{0x43}, KeySize))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sealed, err := v1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := v2.Decrypt(sealed); !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrIntegrity with wrong key, got %v", err)
	}
}

func TestVault_BadKeyLength(t *testing.T) {
	if _, err := New([]byte("short")); !errors.Is(err, ErrBadKey) {
		t.Errorf("expected ErrBadKey, got %v", err)
	}
}

func TestVault_NewFromHex(t *testing.T) {
	v, err := NewFromHex("4242424242424242424242424242424242424242424242424242424242424242")
	if err != nil {
		t.Fatalf("NewFromHex failed: %v", err)
	}
	if err := v.SelfTest(); err != nil {
		t.Errorf("SelfTest failed: %v", err)
	}

	if _, err := NewFromHex("zz"); err == nil {
		t.Error("expected error for non-hex secret")
	}
	if _, err := NewFromHex("abcd"); !errors.Is(err, ErrBadKey) {
		t.Errorf("expected ErrBadKey for short hex secret, got %v", err)
	}
}

func TestVault_SelfTest(t *testing.T) {
	if err := testVault(t).SelfTest(); err != nil {
		t.Errorf("SelfTest failed on healthy vault: %v", err)
	}
}
