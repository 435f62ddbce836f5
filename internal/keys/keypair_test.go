package keys

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateCreatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "privkey")

	kp, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	if len(kp.PublicKeyBytes()) != PublicKeySize {
		t.Errorf("PublicKeyBytes() is %d bytes, want %d", len(kp.PublicKeyBytes()), PublicKeySize)
	}
	if kp.PublicKeyBytes()[0] != 0x04 {
		t.Errorf("public key does not start with the uncompressed-point tag 0x04")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("private key file mode = %o, want 0600", info.Mode().Perm())
	}

	pubText, err := os.ReadFile(path + ".pub")
	if err != nil {
		t.Fatalf("reading .pub file: %v", err)
	}
	if string(pubText) != kp.PublicKeyBase64() {
		t.Errorf(".pub file contents do not match PublicKeyBase64()")
	}
}

func TestLoadOrGenerateReloadsExistingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "privkey")

	first, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate (create): %v", err)
	}
	second, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate (reload): %v", err)
	}
	if first.PublicKeyBase64() != second.PublicKeyBase64() {
		t.Errorf("reloading the same key file produced a different public key")
	}
}

func TestLoadOrGenerateNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "privkey")

	first, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if _, err := LoadOrGenerate(path); err != nil {
		t.Fatalf("LoadOrGenerate (second call): %v", err)
	}
	again, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(raw) != string(again) {
		t.Errorf("private key file contents changed across calls")
	}
	_ = first
}
