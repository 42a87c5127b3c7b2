package security

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestNewCipher(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "invalid long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCipher(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCipher() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && c == nil {
				t.Error("NewCipher() returned nil without error")
			}
		})
	}
}

func TestNewCipherFromPassphrase(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		wantErr    bool
	}{
		{
			name:       "valid passphrase",
			passphrase: "my-secure-passphrase",
			wantErr:    false,
		},
		{
			name:       "empty passphrase",
			passphrase: "",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCipherFromPassphrase(tt.passphrase)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCipherFromPassphrase() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && c == nil {
				t.Error("NewCipherFromPassphrase() returned nil without error")
			}
		})
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, []byte("test-encryption-key-32-bytes-!!"))

	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("Failed to create Cipher: %v", err)
	}

	plaintext := []byte(`{"device_id":"fw-01","api_key":"LUFRPT1secret"}`)

	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Contains(ciphertext, []byte("LUFRPT1secret")) {
		t.Error("ciphertext contains plaintext API key")
	}

	decrypted, err := c.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("roundtrip mismatch: got %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptProducesUniqueNonces(t *testing.T) {
	c, err := NewCipherFromPassphrase("nonce-test")
	if err != nil {
		t.Fatalf("Failed to create Cipher: %v", err)
	}

	a, err := c.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	b, err := c.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same input produced identical output")
	}
}

func TestDecryptRejectsBadInput(t *testing.T) {
	c, err := NewCipherFromPassphrase("reject-test")
	if err != nil {
		t.Fatalf("Failed to create Cipher: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "shorter than nonce", data: []byte{0x01, 0x02}},
		{name: "tampered", data: make([]byte, 48)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decrypt(tt.data); err == nil {
				t.Error("Decrypt() accepted invalid input")
			}
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	c1, _ := NewCipherFromPassphrase("key-one")
	c2, _ := NewCipherFromPassphrase("key-two")

	ciphertext, err := c1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := c2.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() succeeded with the wrong key")
	}
}

func TestLoadOrCreateKey(t *testing.T) {
	dir := t.TempDir()

	key1, err := LoadOrCreateKey(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateKey() error = %v", err)
	}
	if len(key1) != 32 {
		t.Fatalf("generated key is %d bytes, want 32", len(key1))
	}

	info, err := os.Stat(filepath.Join(dir, KeyFile))
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key file permissions = %o, want 600", perm)
	}

	key2, err := LoadOrCreateKey(dir)
	if err != nil {
		t.Fatalf("second LoadOrCreateKey() error = %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("second call did not return the persisted key")
	}
}

func TestLoadOrCreateKeyRejectsTruncated(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, KeyFile), []byte("short"), 0o600); err != nil {
		t.Fatalf("write truncated key: %v", err)
	}
	if _, err := LoadOrCreateKey(dir); err == nil {
		t.Error("LoadOrCreateKey() accepted a truncated key file")
	}
}
