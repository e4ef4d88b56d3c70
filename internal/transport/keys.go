package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

const keyComment = "vm@vm"

// KeyManager owns the key pair used to log into guests.
type KeyManager struct {
	privPath string
}

// NewKeyManager manages the pair at privPath and privPath+".pub".
func NewKeyManager(privPath string) *KeyManager {
	return &KeyManager{privPath: privPath}
}

func (m *KeyManager) publicKeyPath() string {
	return m.privPath + ".pub"
}

// EnsureKeyPair generates an ed25519 key pair unless one exists, or
// replaces it when force is set. It returns the private and public paths.
func (m *KeyManager) EnsureKeyPair(force bool) (privateKeyPath, publicKeyPath string, err error) {
	privPath := m.privPath
	pubPath := m.publicKeyPath()

	if m.KeyPairExists() && !force {
		return privPath, pubPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(privPath), 0700); err != nil {
		return "", "", fmt.Errorf("create key directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ed25519 key: %w", err)
	}

	if err := writePrivateKey(privPath, privKey); err != nil {
		return "", "", fmt.Errorf("write private key: %w", err)
	}
	if err := writePublicKey(pubPath, pubKey); err != nil {
		os.Remove(privPath)
		return "", "", fmt.Errorf("write public key: %w", err)
	}

	return privPath, pubPath, nil
}

// KeyPairExists reports whether both halves are on disk.
func (m *KeyManager) KeyPairExists() bool {
	_, privErr := os.Stat(m.privPath)
	_, pubErr := os.Stat(m.publicKeyPath())
	return privErr == nil && pubErr == nil
}

// PublicKeyContent returns the authorized_keys line for the pair.
func (m *KeyManager) PublicKeyContent() (string, error) {
	content, err := os.ReadFile(m.publicKeyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("SSH key not generated; run 'vm ssh-keygen' first")
		}
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}

func writePrivateKey(path string, privKey ed25519.PrivateKey) error {
	block, err := ssh.MarshalPrivateKey(privKey, keyComment)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	// Replace a previous key that may be read-only.
	os.Remove(path)
	return os.WriteFile(path, pem.EncodeToMemory(block), 0600)
}

func writePublicKey(path string, pubKey ed25519.PublicKey) error {
	sshPub, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("convert public key: %w", err)
	}
	line := strings.TrimSuffix(string(ssh.MarshalAuthorizedKey(sshPub)), "\n")
	return os.WriteFile(path, []byte(line+" "+keyComment+"\n"), 0644)
}
