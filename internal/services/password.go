package services

import (
	cryptorand "crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/atabank/backend/internal/config"
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// Argon2Hasher produces salted argon2id digests encoded as base64(salt)$base64(hash).
type Argon2Hasher struct {
	params config.Argon2Config
}

func NewArgon2Hasher(params config.Argon2Config) *Argon2Hasher {
	return &Argon2Hasher{params: params}
}

func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := h.derive(password, salt, h.params.KeyLength)
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

// Verify also accepts the unsalted base64 SHA-256 digests of older databases.
func (h *Argon2Hasher) Verify(password, digest string) bool {
	parts := strings.Split(digest, "$")
	switch len(parts) {
	case 1:
		sum := sha256.Sum256([]byte(password))
		legacy := base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(legacy), []byte(digest)) == 1
	case 2:
	default:
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(hash) == 0 {
		return false
	}

	computedHash := h.derive(password, salt, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}

func (h *Argon2Hasher) derive(password string, salt []byte, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, keyLen)
}
