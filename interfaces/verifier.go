package interfaces

import "context"

// VerificationKey holds the public material a guardian or owner registered
// for signature verification. Exactly one of the fields is normally set; the
// populated field selects the verification method.
type VerificationKey struct {
	// Address verifies EIP-191 wallet signatures.
	Address WalletAddress `json:"address,omitempty"`
	// PublicKey verifies ECDSA (ASN.1) or ed25519 signatures, PEM encoded.
	PublicKey []byte `json:"public_key,omitempty"`
	// Secret verifies HMAC one-time codes for guardians without keys.
	Secret []byte `json:"secret,omitempty"`
}

// HasWallet reports whether a wallet address is registered.
func (k VerificationKey) HasWallet() bool {
	return !k.Address.IsZero()
}

// HasPublicKey reports whether a PEM public key is registered.
func (k VerificationKey) HasPublicKey() bool {
	return len(k.PublicKey) > 0
}

// HasSecret reports whether a shared code secret is registered.
func (k VerificationKey) HasSecret() bool {
	return len(k.Secret) > 0
}

// IsZero reports whether no verification material is registered.
func (k VerificationKey) IsZero() bool {
	return !k.HasWallet() && !k.HasPublicKey() && !k.HasSecret()
}

// SignatureVerifier checks a signature over a challenge against registered
// key material. Implementations return an error wrapping ErrInvalidSignature
// when verification fails; the recovery state machine is independent of the
// verification method in use.
type SignatureVerifier interface {
	Verify(ctx context.Context, key VerificationKey, challenge, signature []byte) error
}
