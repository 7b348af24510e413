package verifier

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// KeypairVerifier checks signatures against a PEM-encoded public key
// registered for the party. ECDSA keys verify an ASN.1 signature over the
// SHA-256 digest of the challenge; ed25519 keys verify over the challenge
// directly.
type KeypairVerifier struct{}

// NewKeypairVerifier creates a PEM keypair verifier.
func NewKeypairVerifier() *KeypairVerifier {
	return &KeypairVerifier{}
}

// Verify checks the signature over the challenge bytes.
func (v *KeypairVerifier) Verify(ctx context.Context, key interfaces.VerificationKey, challenge, sig []byte) error {
	if !key.HasPublicKey() {
		return fmt.Errorf("%w: no public key registered", interfaces.ErrInvalidSignature)
	}

	block, _ := pem.Decode(key.PublicKey)
	if block == nil {
		return fmt.Errorf("%w: failed to decode public key PEM", interfaces.ErrInvalidSignature)
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("%w: failed to parse public key: %v", interfaces.ErrInvalidSignature, err)
	}

	switch pub := pubKey.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(challenge)
		if !ecdsa.VerifyASN1(pub, digest[:], sig) {
			return fmt.Errorf("%w: ECDSA verification failed", interfaces.ErrInvalidSignature)
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, challenge, sig) {
			return fmt.Errorf("%w: ed25519 verification failed", interfaces.ErrInvalidSignature)
		}
	default:
		return fmt.Errorf("%w: public key is neither ECDSA nor ed25519", interfaces.ErrInvalidSignature)
	}

	return nil
}

// SignECDSA signs a challenge with an ECDSA private key in the format
// KeypairVerifier accepts: an ASN.1 signature over the SHA-256 digest.
func SignECDSA(privateKey *ecdsa.PrivateKey, challenge []byte) ([]byte, error) {
	digest := sha256.Sum256(challenge)
	return ecdsa.SignASN1(rand.Reader, privateKey, digest[:])
}

// SignEd25519 signs a challenge with an ed25519 private key in the format
// KeypairVerifier accepts.
func SignEd25519(privateKey ed25519.PrivateKey, challenge []byte) []byte {
	return ed25519.Sign(privateKey, challenge)
}
