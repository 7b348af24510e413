package verifier

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// CodeVerifier checks one-time codes for parties that registered a shared
// secret instead of a key. The code is the hex HMAC-SHA256 of the challenge
// under the shared secret, delivered to the party out of band; verification
// is constant time.
type CodeVerifier struct{}

// NewCodeVerifier creates a one-time code verifier.
func NewCodeVerifier() *CodeVerifier {
	return &CodeVerifier{}
}

// Verify checks the code against the challenge and the registered secret.
func (v *CodeVerifier) Verify(ctx context.Context, key interfaces.VerificationKey, challenge, code []byte) error {
	if !key.HasSecret() {
		return fmt.Errorf("%w: no code secret registered", interfaces.ErrInvalidSignature)
	}

	expected := ComputeCode(key.Secret, challenge)
	if !hmac.Equal([]byte(expected), code) {
		return fmt.Errorf("%w: code mismatch", interfaces.ErrInvalidSignature)
	}

	return nil
}

// ComputeCode derives the one-time code for a challenge under a shared
// secret.
func ComputeCode(secret, challenge []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(challenge)
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateCodeSecret creates a fresh shared secret for one-time codes.
func GenerateCodeSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate code secret: %w", err)
	}
	return secret, nil
}
