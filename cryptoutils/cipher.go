package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// Argon2id parameters: time=1, memory=64MiB, threads=4, 32-byte key.
// The memory-hard derivation is the brute-force barrier for fragment
// passphrases, so these must not be lowered.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32

	saltLen = 16
	ivLen   = 12 // standard nonce size for GCM
)

// Sealed is the output of Encrypt: ciphertext plus the salt and IV required
// to decrypt it. Salt and IV are fresh random values on every call and are
// not secret; they are stored alongside the ciphertext.
type Sealed struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Salt       []byte `json:"salt"`
}

// Marshal serializes the sealed blob for storage.
func (s *Sealed) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// SealedFromBytes deserializes a stored sealed blob.
func SealedFromBytes(data []byte) (*Sealed, error) {
	var s Sealed
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid sealed blob: %w", err)
	}
	return &s, nil
}

// Encrypt seals plaintext under a passphrase using AES-256-GCM with an
// Argon2id-derived key.
func Encrypt(plaintext []byte, passphrase string) (*Sealed, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	aesGCM, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	return &Sealed{
		Ciphertext: aesGCM.Seal(nil, iv, plaintext, nil),
		IV:         iv,
		Salt:       salt,
	}, nil
}

// Decrypt opens a sealed blob. Every failure mode, wrong passphrase or
// tampered ciphertext, salt, or IV, surfaces as the same ErrDecryptionFailed
// so callers cannot be used as a padding or key oracle.
func Decrypt(sealed *Sealed, passphrase string) ([]byte, error) {
	if sealed == nil || len(sealed.IV) != ivLen || len(sealed.Salt) != saltLen {
		return nil, interfaces.ErrDecryptionFailed
	}

	aesGCM, err := newGCM(passphrase, sealed.Salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesGCM.Open(nil, sealed.IV, sealed.Ciphertext, nil)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}

	return plaintext, nil
}

// newGCM derives the AES key from the passphrase and salt and wraps it in a
// GCM instance. The derived key is wiped once the cipher holds its schedule.
func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)

	aesBlock, err := aes.NewCipher(key)
	wipeBytes(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return aesGCM, nil
}

// DerivePassphrase deterministically derives the passphrase protecting one
// guardian's fragment from the owner's master key, the guardian's contact
// identity, and the fragment's assignment ordinal. Distinct identities or
// indices always produce distinct passphrases. The identity is
// length-prefixed so a crafted identity cannot alias another guardian's
// derivation.
func DerivePassphrase(masterKey []byte, identity string, index int) string {
	var ilen, idx [4]byte
	binary.BigEndian.PutUint32(ilen[:], uint32(len(identity)))
	binary.BigEndian.PutUint32(idx[:], uint32(index))

	h := sha256.New()
	h.Write(masterKey)
	h.Write(ilen[:])
	h.Write([]byte(identity))
	h.Write(idx[:])
	h.Write([]byte("fragment"))
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateRandomPassphrase returns a fresh passphrase with 256 bits of
// entropy, base64url encoded.
func GenerateRandomPassphrase() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateMasterKey returns a fresh 32-byte wrapping key for passphrase
// derivation.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	return key, nil
}
