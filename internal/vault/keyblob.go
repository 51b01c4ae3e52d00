package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the encrypted-key JSON schema version.
	currentVersion = 1
)

// keyBlobJSON is the at-rest format of the vault's delegated signing key.
type keyBlobJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// sealKey encrypts a 32-byte private key with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated
// encryption, returning the JSON blob stored in the vault record.
func sealKey(privateKey []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("vault: password must not be empty")
	}
	if len(privateKey) != 32 {
		return nil, fmt.Errorf("vault: expected 32-byte key, got %d bytes", len(privateKey))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, privateKey, nil)

	out := keyBlobJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return json.Marshal(out)
}

// openKey decrypts a blob produced by sealKey, returning the raw private key
// bytes.
func openKey(blob []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("vault: password must not be empty")
	}

	var stored keyBlobJSON
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, fmt.Errorf("vault: parsing key blob: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("vault: unsupported key blob version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("vault: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("vault: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decryption failed (wrong password?): %w", err)
	}

	return plaintext, nil
}

// keyHex renders a raw private key as hex for go-ethereum's key parsing.
func keyHex(privateKey []byte) string {
	return hex.EncodeToString(privateKey)
}
