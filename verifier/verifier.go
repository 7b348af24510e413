package verifier

import (
	"context"
	"fmt"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// Dispatch implements interfaces.SignatureVerifier by routing each
// verification to the mechanism matching the registered key material:
// wallet address, PEM public key, or shared code secret.
type Dispatch struct {
	wallet  *WalletVerifier
	keypair *KeypairVerifier
	code    *CodeVerifier
}

// NewDispatch creates a verifier covering all supported mechanisms.
func NewDispatch() *Dispatch {
	return &Dispatch{
		wallet:  NewWalletVerifier(),
		keypair: NewKeypairVerifier(),
		code:    NewCodeVerifier(),
	}
}

// Verify checks the signature with the mechanism selected by the key.
func (d *Dispatch) Verify(ctx context.Context, key interfaces.VerificationKey, challenge, sig []byte) error {
	switch {
	case key.HasWallet():
		return d.wallet.Verify(ctx, key, challenge, sig)
	case key.HasPublicKey():
		return d.keypair.Verify(ctx, key, challenge, sig)
	case key.HasSecret():
		return d.code.Verify(ctx, key, challenge, sig)
	default:
		return fmt.Errorf("%w: no verification material registered", interfaces.ErrInvalidSignature)
	}
}
