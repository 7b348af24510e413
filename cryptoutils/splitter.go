package cryptoutils

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/hashicorp/vault/shamir"
	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// checksumLen is the number of digest bytes folded into the split payload.
// The underlying polynomial arithmetic recombines any share set into some
// byte string; the digest is what makes a wrong or corrupted set detectable.
const checksumLen = 8

// Splitter divides a secret into total shares of which threshold are required
// to reconstruct it. Fewer than threshold shares reveal nothing about the
// secret. Each share encodes its own evaluation point, so shares may be
// combined in any order.
type Splitter struct {
	threshold int
	total     int
}

// NewSplitter validates the threshold parameters and returns a Splitter.
// Threshold must be at least 2, total at least threshold and at most 255.
func NewSplitter(threshold, total int) (*Splitter, error) {
	if threshold < 2 {
		return nil, fmt.Errorf("%w: threshold must be at least 2, got %d", interfaces.ErrInvalidParameters, threshold)
	}
	if total < threshold {
		return nil, fmt.Errorf("%w: total shares %d below threshold %d", interfaces.ErrInvalidParameters, total, threshold)
	}
	if total > 255 {
		return nil, fmt.Errorf("%w: total shares must be at most 255, got %d", interfaces.ErrInvalidParameters, total)
	}

	return &Splitter{threshold: threshold, total: total}, nil
}

// Threshold returns the number of shares required to reconstruct.
func (s *Splitter) Threshold() int {
	return s.threshold
}

// Total returns the number of shares produced by Split.
func (s *Splitter) Total() int {
	return s.total
}

// Split divides the secret into total shares. A truncated digest of the
// secret is folded into the shared payload before splitting so that Combine
// can verify the reconstruction.
func (s *Splitter) Split(secret []byte) ([][]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: secret must not be empty", interfaces.ErrInvalidParameters)
	}

	payload := sealPayload(secret)
	shares, err := shamir.Split(payload, s.total, s.threshold)
	wipeBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	return shares, nil
}

// Combine reconstructs the secret from at least threshold shares.
func (s *Splitter) Combine(shares [][]byte) ([]byte, error) {
	return Combine(shares, s.threshold)
}

// Combine reconstructs a secret produced by a Splitter with the given
// threshold. It fails with ErrInsufficientShares when too few shares are
// provided and ErrReconstructionFailed when the shares are inconsistent,
// corrupted, or drawn from different splits. It never returns partial data.
func Combine(shares [][]byte, threshold int) ([]byte, error) {
	if threshold < 2 {
		return nil, fmt.Errorf("%w: threshold must be at least 2, got %d", interfaces.ErrInvalidParameters, threshold)
	}
	if len(shares) < threshold {
		return nil, fmt.Errorf("%w: have %d shares, need %d", interfaces.ErrInsufficientShares, len(shares), threshold)
	}

	payload, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrReconstructionFailed, err)
	}

	return openPayload(payload)
}

// sealPayload appends a truncated digest of the secret.
func sealPayload(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	payload := make([]byte, 0, len(secret)+checksumLen)
	payload = append(payload, secret...)
	payload = append(payload, sum[:checksumLen]...)
	return payload
}

// openPayload verifies the digest and strips it from the payload.
func openPayload(payload []byte) ([]byte, error) {
	if len(payload) <= checksumLen {
		wipeBytes(payload)
		return nil, fmt.Errorf("%w: reconstructed payload too short", interfaces.ErrReconstructionFailed)
	}

	body := payload[:len(payload)-checksumLen]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:checksumLen], payload[len(payload)-checksumLen:]) {
		wipeBytes(payload)
		return nil, fmt.Errorf("%w: share set is inconsistent", interfaces.ErrReconstructionFailed)
	}

	secret := make([]byte, len(body))
	copy(secret, body)
	wipeBytes(payload)
	return secret, nil
}

// WipeBytes zeroes sensitive data in place.
func WipeBytes(data []byte) {
	wipeBytes(data)
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
