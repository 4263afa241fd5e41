package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const keyIterations = 100000

// SecurityManager encrypts stored profile passwords.
type SecurityManager interface {
	EncryptCredential(plaintext string) (string, error)
	DecryptCredential(ciphertext string) (string, error)
}

// AESSecurityManager implements SecurityManager using AES-256-GCM with a key
// derived from a per-installation salt and a machine passphrase.
type AESSecurityManager struct {
	keyPath   string
	masterKey []byte
}

// NewSecurityManager loads the salt at keyPath, creating it on first use.
func NewSecurityManager(keyPath string) (*AESSecurityManager, error) {
	s := &AESSecurityManager{keyPath: keyPath}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create security directory: %w", err)
	}

	salt, err := s.loadSalt()
	if os.IsNotExist(err) {
		salt, err = s.generateSalt()
	}
	if err != nil {
		return nil, err
	}
	s.masterKey = pbkdf2.Key([]byte(machinePassphrase()), salt, keyIterations, 32, sha256.New)
	return s, nil
}

func defaultKeyPath() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "plcweb", "security", "master.key"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "plcweb", "security", "master.key"), nil
}

func (s *AESSecurityManager) loadSalt() ([]byte, error) {
	data, err := os.ReadFile(s.keyPath)
	if err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key material: %w", err)
	}
	return salt, nil
}

func (s *AESSecurityManager) generateSalt() ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate random salt: %w", err)
	}
	if err := os.WriteFile(s.keyPath, []byte(hex.EncodeToString(salt)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key material: %w", err)
	}
	return salt, nil
}

func machinePassphrase() string {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	return fmt.Sprintf("plcweb-%s-%s", hostname, username)
}

func (s *AESSecurityManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptCredential seals plaintext and returns it base64 encoded with the nonce prepended.
func (s *AESSecurityManager) EncryptCredential(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptCredential reverses EncryptCredential.
func (s *AESSecurityManager) DecryptCredential(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// ClearSecurityData wipes the key from memory and removes the key file.
// Stored passwords cannot be decrypted afterwards.
func (s *AESSecurityManager) ClearSecurityData() error {
	for i := range s.masterKey {
		s.masterKey[i] = 0
	}
	s.masterKey = nil
	if err := os.Remove(s.keyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove security key file: %w", err)
	}
	return nil
}
