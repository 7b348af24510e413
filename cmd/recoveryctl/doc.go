// Package main (cmd/recoveryctl) is the operator CLI for the guardian
// recovery service. It manages the full lifecycle of a protected secret:
// owner onboarding, guardian invitations, the dead-man's-switch check-in,
// and the time-locked recovery workflow.
//
// Commands:
//
//	onboard    - Create a guardian setup and seal the protected secret
//	check-in   - Record owner proof of life
//	status     - Show an owner's setup, guardians, and recovery requests
//	invite     - Invite a guardian
//	accept     - Accept a guardian invitation with a signed proof
//	decline    - Decline a guardian invitation
//	revoke     - Revoke a guardian and re-split the secret
//	rekey      - Change the reconstruction threshold
//	initiate   - Open a recovery request as a guardian
//	approve    - Approve a recovery request with a signed proof
//	dispute    - Dispute a recovery request as the owner
//	complete   - Complete a recovery request and release the secret
//	cancel     - Withdraw a recovery request as its initiator
//	sweep      - Run the housekeeping loop
//
// Proof files are produced by cmd/guardiankey against the same challenge
// formats the service verifies.
package main
