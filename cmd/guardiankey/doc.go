// Package main (cmd/guardiankey) generates guardian and owner key material
// and signs recovery challenges.
//
// Commands:
//
//	generate        - Generate a PEM keypair (ECDSA P-256 or ed25519)
//	generate-wallet - Generate an Ethereum wallet key
//	accept-proof    - Sign an invitation acceptance challenge
//	approval-proof  - Sign a recovery approval challenge
//	dispute-proof   - Sign an owner dispute challenge
//
// Proofs can be produced from a PEM private key, a wallet private key, or a
// shared code secret; the output feeds cmd/recoveryctl's --proof-file flags.
package main
