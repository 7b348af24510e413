// Package interfaces defines core interfaces and types for the guardian
// recovery system, separating interface definitions from implementations.
//
// The package provides the contracts between the key components:
//
// # Persistence Interfaces
//
// Store: Persists guardian setups, guardians, and recovery requests with
// optimistic concurrency on recovery requests. Conditional updates carry an
// expected version and fail with ErrVersionConflict when the persisted row
// moved, which keeps approval recording and terminal transitions atomic per
// request.
//
// StorageBackend: Provides content-addressed blob storage for sealed fragment
// envelopes and archived recovery requests across multiple backend types
// (memory, file, S3, IPFS, Vault).
//
// StorageBackendFactory: Creates storage backends from URI strings and
// manages multi-backend configurations for redundant storage.
//
// # Collaborator Interfaces
//
// SignatureVerifier: Checks guardian and owner signatures over canonical
// challenges. Pluggable so deployments can verify wallet signatures, PEM
// keypairs, or one-time codes without touching the recovery state machine.
//
// Notifier: Delivers best-effort lifecycle notifications. Failures are logged
// and never block a state transition.
//
// # Core Types
//
// - GuardianSetup: an owner's threshold parameters and wrapped key material
// - Guardian: one member of a guardian set with its verification key and
//   assigned fragment reference
// - RecoveryRequest: one recovery attempt with its approvals and version
// - FragmentEnvelope/FragmentRef: a sealed fragment blob and its metadata
// - ContentID: 32-byte SHA-256 hash for content addressing
// - WalletAddress: 20-byte Ethereum address
//
// # Challenges
//
// ApprovalChallenge, DisputeChallenge, and AcceptChallenge build the
// canonical byte strings parties sign, binding every signature to a single
// request and role.
package interfaces
