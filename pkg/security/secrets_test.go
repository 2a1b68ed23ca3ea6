package security

import (
	"bytes"
	"testing"
)

func TestNewAESGCMSealer(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantErr: false},
		{name: "invalid short key", key: make([]byte, 16), wantErr: true},
		{name: "invalid long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewAESGCMSealer(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAESGCMSealer() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && s == nil {
				t.Error("NewAESGCMSealer() returned nil without error")
			}
		})
	}
}

func TestNewAESGCMSealerFromPassphrase(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		wantErr    bool
	}{
		{name: "valid passphrase", passphrase: "my-secure-passphrase", wantErr: false},
		{name: "empty passphrase", passphrase: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewAESGCMSealerFromPassphrase(tt.passphrase)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAESGCMSealerFromPassphrase() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && s == nil {
				t.Error("NewAESGCMSealerFromPassphrase() returned nil without error")
			}
		})
	}
}

func TestSealOpenRoundtrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, []byte("test-encryption-key-32-bytes-!!"))

	s, err := NewAESGCMSealer(key)
	if err != nil {
		t.Fatalf("NewAESGCMSealer() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "simple string", plaintext: []byte("hello world")},
		{name: "json data", plaintext: []byte(`{"username":"admin","password":"secret123"}`)},
		{name: "binary data", plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}},
		{name: "large data", plaintext: bytes.Repeat([]byte("test"), 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := s.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if bytes.Equal(ciphertext, tt.plaintext) {
				t.Error("ciphertext should not equal plaintext")
			}

			decrypted, err := s.Open(ciphertext)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("Open() = %v, want %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestSeal_Errors(t *testing.T) {
	key := make([]byte, 32)
	s, _ := NewAESGCMSealer(key)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "empty data", plaintext: []byte{}},
		{name: "nil data", plaintext: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Seal(tt.plaintext); err == nil {
				t.Error("Seal() expected error, got nil")
			}
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	key := make([]byte, 32)
	s, _ := NewAESGCMSealer(key)

	tests := []struct {
		name       string
		ciphertext []byte
	}{
		{name: "empty data", ciphertext: []byte{}},
		{name: "nil data", ciphertext: nil},
		{name: "too short data", ciphertext: []byte{0x01, 0x02}},
		{name: "corrupted data", ciphertext: bytes.Repeat([]byte("x"), 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Open(tt.ciphertext); err == nil {
				t.Error("Open() expected error, got nil")
			}
		})
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	key1 := make([]byte, 32)
	copy(key1, []byte("key-one-32-bytes-long-!!!!!!!!!!"))

	key2 := make([]byte, 32)
	copy(key2, []byte("key-two-32-bytes-long-!!!!!!!!!!"))

	s1, _ := NewAESGCMSealer(key1)
	s2, _ := NewAESGCMSealer(key2)

	plaintext := []byte("secret data")

	ciphertext, err := s1.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if _, err := s2.Open(ciphertext); err == nil {
		t.Error("Open() should fail with wrong key")
	}
}

func TestDeriveSealKey(t *testing.T) {
	tests := []struct {
		name      string
		latticeID string
	}{
		{name: "simple id", latticeID: "lattice-123"},
		{name: "uuid", latticeID: "550e8400-e29b-41d4-a716-446655440000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := DeriveSealKey(tt.latticeID)
			if len(key) != 32 {
				t.Errorf("DeriveSealKey() returned key of length %d, want 32", len(key))
			}

			key2 := DeriveSealKey(tt.latticeID)
			if !bytes.Equal(key, key2) {
				t.Error("DeriveSealKey() should be deterministic")
			}

			differentKey := DeriveSealKey(tt.latticeID + "-different")
			if bytes.Equal(key, differentKey) {
				t.Error("different lattice ids should produce different keys")
			}
		})
	}
}
