package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrKeyNotFound    = errors.New("key not found in keyring")
	ErrActiveKeyUnset = errors.New("active master key identifier not set or found")
)

// SecretAADVersion is bound into every wrapped API key so rows cannot be
// replayed across setting keys.
const SecretAADVersion = "ai_api_key_v1"

type MasterKey struct {
	KID      string `json:"kid"`
	Material string `json:"material"` // Base64
}

// Keyring holds the AES-256 master keys that wrap stored provider API keys.
type Keyring struct {
	keys      map[string][]byte
	activeKID string
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string][]byte)}
}

// LoadFromEnv loads MASTER_KEYS (JSON) and ACTIVE_MASTER_KID from the
// environment. Strict validation: fails if the active key is missing or any
// key material is malformed.
func (k *Keyring) LoadFromEnv() error {
	keysJSON := os.Getenv("MASTER_KEYS")
	activeKID := os.Getenv("ACTIVE_MASTER_KID")

	if keysJSON == "" {
		return errors.New("MASTER_KEYS environment variable is empty")
	}
	if activeKID == "" {
		return errors.New("ACTIVE_MASTER_KID environment variable is empty")
	}

	var rawKeys []MasterKey
	if err := json.Unmarshal([]byte(keysJSON), &rawKeys); err != nil {
		return fmt.Errorf("failed to parse MASTER_KEYS: %w", err)
	}

	k.keys = make(map[string][]byte)
	for _, rk := range rawKeys {
		if rk.KID == "" {
			return errors.New("found master key with empty KID")
		}
		if _, exists := k.keys[rk.KID]; exists {
			return fmt.Errorf("duplicate master key KID: %s", rk.KID)
		}

		decoded, err := base64.StdEncoding.DecodeString(rk.Material)
		if err != nil {
			return fmt.Errorf("invalid base64 for key %s: %w", rk.KID, err)
		}
		if len(decoded) != 32 {
			return fmt.Errorf("invalid key length for %s: expected 32 bytes (AES-256), got %d", rk.KID, len(decoded))
		}
		k.keys[rk.KID] = decoded
	}

	if _, ok := k.keys[activeKID]; !ok {
		return fmt.Errorf("active key %s not found in MASTER_KEYS", activeKID)
	}
	k.activeKID = activeKID
	return nil
}

// WrapSecret encrypts a provider API key under the active master key.
// AAD binds the setting key and the schema version.
// Returns: masterKID, nonce, ciphertext, tag, err.
func (k *Keyring) WrapSecret(plaintext []byte, settingKey string) (string, []byte, []byte, []byte, error) {
	if k.activeKID == "" {
		return "", nil, nil, nil, ErrActiveKeyUnset
	}
	masterKey, ok := k.keys[k.activeKID]
	if !ok {
		return "", nil, nil, nil, ErrActiveKeyUnset
	}

	nonce, ciphertext, tag, err := EncryptGCM(masterKey, plaintext, secretAAD(settingKey))
	if err != nil {
		return "", nil, nil, nil, err
	}
	return k.activeKID, nonce, ciphertext, tag, nil
}

// UnwrapSecret decrypts a stored API key with the master key named by kid.
func (k *Keyring) UnwrapSecret(kid string, nonce, ciphertext, tag []byte, settingKey string) ([]byte, error) {
	masterKey, ok := k.keys[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return DecryptGCM(masterKey, nonce, ciphertext, tag, secretAAD(settingKey))
}

// DeriveSigningKey derives the HMAC key used to sign thumbnail URLs from the
// active master key via HKDF-SHA256. Rotating the master key rotates the URL
// signatures with it.
func (k *Keyring) DeriveSigningKey() ([]byte, error) {
	if k.activeKID == "" {
		return nil, ErrActiveKeyUnset
	}
	r := hkdf.New(sha256.New, k.keys[k.activeKID], nil, []byte("media-url-signing-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func secretAAD(settingKey string) []byte {
	return []byte(settingKey + ":" + SecretAADVersion)
}

// GenerateKey creates a random 32-byte AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
