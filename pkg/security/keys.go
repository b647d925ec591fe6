package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the length of the daemon master key in bytes
const MasterKeySize = 32

// Keys are the purpose-specific keys derived from the master key
type Keys struct {
	Credentials []byte // Seals stored credentials
	AgentSecret []byte // Signs agent connection secrets
}

// DeriveKeys expands master into independent keys with HKDF-SHA256
func DeriveKeys(master []byte) (*Keys, error) {
	if len(master) < MasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", MasterKeySize, len(master))
	}

	derive := func(info string) ([]byte, error) {
		key := make([]byte, 32)
		if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
			return nil, fmt.Errorf("failed to derive %s key: %w", info, err)
		}
		return key, nil
	}

	creds, err := derive("terrapool credentials")
	if err != nil {
		return nil, err
	}
	agent, err := derive("terrapool agent secrets")
	if err != nil {
		return nil, err
	}
	return &Keys{Credentials: creds, AgentSecret: agent}, nil
}

// ParseMasterKey decodes a hex encoded master key
func ParseMasterKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(key) < MasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", MasterKeySize, len(key))
	}
	return key, nil
}

// LoadMasterKey reads the hex encoded master key at path
func LoadMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}
	return ParseMasterKey(string(data))
}

// LoadOrCreateMasterKey reads the master key at path, generating and
// storing a new random key when the file does not exist yet
func LoadOrCreateMasterKey(path string) ([]byte, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadMasterKey(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat master key: %w", err)
	}

	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("failed to write master key: %w", err)
	}
	return key, nil
}
