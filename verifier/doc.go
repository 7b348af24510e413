// Package verifier implements signature verification for recovery approvals,
// disputes, and invitation acceptance.
//
// Verification is a capability injected into the recovery coordinator and the
// guardian registry; the state machine never depends on how a party proves
// identity. Three mechanisms are provided:
//
//   - WalletVerifier checks Ethereum wallet signatures in the
//     address:signature header format. The recovered signer address must
//     match the registered wallet address.
//   - KeypairVerifier checks ECDSA (ASN.1) and ed25519 signatures against a
//     PEM-encoded public key registered for the party.
//   - CodeVerifier checks HMAC-SHA256 one-time codes derived from a shared
//     secret, for guardians without keys, in constant time.
//
// Dispatch selects the mechanism from the verification key material a party
// registered, so a single owner may have wallet-holding and code-only
// guardians side by side.
//
// Every verification failure surfaces as interfaces.ErrInvalidSignature with
// detail; callers treat them uniformly.
package verifier
