package interfaces

import "fmt"

// Challenge construction for recovery signatures. Every party signs the
// canonical byte string for its action, never raw request data, so a
// signature for one request and role can never be replayed for another.

const challengeVersion = "v1"

// ApprovalChallenge returns the canonical bytes a guardian signs to approve
// a recovery request.
func ApprovalChallenge(req RequestID, guardian GuardianID) []byte {
	return []byte(fmt.Sprintf("keyhaven/recovery-approval/%s\nrequest=%s\nguardian=%s",
		challengeVersion, req, guardian))
}

// DisputeChallenge returns the canonical bytes an owner signs to dispute a
// recovery request. The reason is covered by the signature.
func DisputeChallenge(req RequestID, owner OwnerID, reason string) []byte {
	return []byte(fmt.Sprintf("keyhaven/recovery-dispute/%s\nrequest=%s\nowner=%s\nreason=%s",
		challengeVersion, req, owner, reason))
}

// AcceptChallenge returns the canonical bytes a guardian signs to accept an
// invitation, proving control of the registered key before any fragment is
// assigned.
func AcceptChallenge(guardian GuardianID, owner OwnerID) []byte {
	return []byte(fmt.Sprintf("keyhaven/guardian-accept/%s\nguardian=%s\nowner=%s",
		challengeVersion, guardian, owner))
}
