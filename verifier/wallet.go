package verifier

import (
	"bytes"
	"context"
	"fmt"

	"github.com/flashbots/go-utils/signature"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// WalletVerifier checks Ethereum wallet signatures over recovery challenges.
// The signature is the address:signature header format produced by
// signature.Create; the recovered signer must match the wallet address
// registered for the party.
type WalletVerifier struct{}

// NewWalletVerifier creates a wallet signature verifier.
func NewWalletVerifier() *WalletVerifier {
	return &WalletVerifier{}
}

// Verify checks the wallet signature over the challenge bytes.
func (v *WalletVerifier) Verify(ctx context.Context, key interfaces.VerificationKey, challenge, sig []byte) error {
	if !key.HasWallet() {
		return fmt.Errorf("%w: no wallet address registered", interfaces.ErrInvalidSignature)
	}

	signer, err := signature.Verify(string(sig), challenge)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidSignature, err)
	}

	if !bytes.Equal(signer.Bytes(), key.Address.Bytes()) {
		return fmt.Errorf("%w: signer %s is not the registered address %s",
			interfaces.ErrInvalidSignature, signer.Hex(), key.Address)
	}

	return nil
}
