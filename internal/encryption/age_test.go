package encryption

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"mentory-go/internal/config"
	"mentory-go/internal/mentory"
)

func newTestKeyPair(t *testing.T) *KeyPairSealer {
	t.Helper()
	dir := t.TempDir()
	return NewKeyPairSealer(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "mentory.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "mentory.key"),
	})
}

func TestKeyPairSealer_IsConfigured(t *testing.T) {
	t.Parallel()
	s := newTestKeyPair(t)
	if s.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup")
	}
	if err := s.Setup("pass"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !s.IsConfigured() {
		t.Error("IsConfigured() = false after Setup")
	}
}

func TestKeyPairSealer_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "journal bytes", input: []byte("SQLite format 3\x00 journal")},
		{name: "empty", input: []byte{}},
		{name: "large", input: bytes.Repeat([]byte("mood"), 20000)},
	}

	s := newTestKeyPair(t)
	if err := s.Setup("correct horse"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	opener, err := s.Unlock("correct horse")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sealed bytes.Buffer
			if err := s.Seal(bytes.NewReader(tt.input), &sealed); err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(sealed.Bytes(), tt.input) {
				t.Error("sealed archive contains the plaintext")
			}

			var opened bytes.Buffer
			if err := opener.Open(&sealed, &opened); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(opened.Bytes(), tt.input) {
				t.Errorf("round trip returned %d bytes, want %d", opened.Len(), len(tt.input))
			}
		})
	}
}

func TestKeyPairSealer_WrongPassphrase(t *testing.T) {
	t.Parallel()
	s := newTestKeyPair(t)
	if err := s.Setup("right"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := s.Unlock("wrong"); err == nil {
		t.Error("Unlock() with wrong passphrase succeeded")
	}
}

func TestKeyPairSealer_MissingKeys(t *testing.T) {
	t.Parallel()
	s := newTestKeyPair(t)

	var buf bytes.Buffer
	if err := s.Seal(bytes.NewReader([]byte("x")), &buf); !errors.Is(err, ErrKeysMissing) {
		t.Errorf("Seal() error = %v, want ErrKeysMissing", err)
	}
	if _, err := s.Unlock("pass"); !errors.Is(err, ErrKeysMissing) {
		t.Errorf("Unlock() error = %v, want ErrKeysMissing", err)
	}
	if err := s.Setup(""); !errors.Is(err, mentory.ErrEmptyInput) {
		t.Errorf("Setup(\"\") error = %v, want ErrEmptyInput", err)
	}
}

func TestPassphraseSealer(t *testing.T) {
	t.Parallel()

	if _, err := NewPassphraseSealer(""); !errors.Is(err, mentory.ErrEmptyInput) {
		t.Fatalf("NewPassphraseSealer(\"\") error = %v, want ErrEmptyInput", err)
	}

	s, err := NewPassphraseSealer("hunter2")
	if err != nil {
		t.Fatalf("NewPassphraseSealer() error = %v", err)
	}
	input := []byte("feeling better today")

	var sealed bytes.Buffer
	if err := s.Seal(bytes.NewReader(input), &sealed); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	sealedBytes := sealed.Bytes()

	var opened bytes.Buffer
	if err := s.Open(bytes.NewReader(sealedBytes), &opened); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened.Bytes(), input) {
		t.Errorf("Open() = %q, want %q", opened.Bytes(), input)
	}

	other, _ := NewPassphraseSealer("not it")
	if err := other.Open(bytes.NewReader(sealedBytes), &bytes.Buffer{}); err == nil {
		t.Error("Open() with a different passphrase succeeded")
	}
}
