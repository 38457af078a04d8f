package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100_000
	keyLen        = 32
	saltLen       = 32
)

// machineID derives a stable per-machine, per-user identifier (MAC
// address plus OS username), so credentials decrypt only on the machine
// and account that saved them.
func machineID() string {
	mac := "no-mac"
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
				continue
			}
			mac = iface.HardwareAddr.String()
			break
		}
	}

	username := os.Getenv("USER")
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	return mac + ":" + username
}

// loadOrCreateSalt returns the per-installation random salt, creating
// it on first use. When the salt file can neither be read nor written,
// it falls back to a deterministic salt derived from the machine id:
// secrecy degrades but the store keeps working. The second return
// reports that degradation so callers can surface it.
func loadOrCreateSalt(path string) ([]byte, bool) {
	if data, err := os.ReadFile(path); err == nil && len(data) == saltLen {
		return data, false
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err == nil {
		if err := os.WriteFile(path, salt, 0600); err == nil {
			return salt, false
		}
	}

	sum := sha256.Sum256([]byte("openbench-wizard-salt:" + machineID()))
	return sum[:], true
}

// deriveKey runs PBKDF2-HMAC-SHA256 over the machine id and salt.
func deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(machineID()), salt, kdfIterations, keyLen, sha256.New)
}

// encrypt seals plaintext with AES-256-GCM and returns a base64 token
// (nonce prepended to the ciphertext).
func encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("initializing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("initializing GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt reverses encrypt. Any tampering or key mismatch fails.
func decrypt(key []byte, token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decoding token: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("initializing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("initializing GCM: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("token too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plain), nil
}
