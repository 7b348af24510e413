package recovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// archiveRecord is the JSON document written to the archive store for a
// terminal recovery request. It is self-contained so audits do not need the
// live database.
type archiveRecord struct {
	Request           string    `json:"request"`
	Owner             string    `json:"owner"`
	Initiator         string    `json:"initiator"`
	Status            string    `json:"status"`
	RequiredApprovals int       `json:"required_approvals"`
	InitiatedAt       time.Time `json:"initiated_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	CompletedAt       time.Time `json:"completed_at,omitempty"`
	DisputedBy        string    `json:"disputed_by,omitempty"`
	DisputeReason     string    `json:"dispute_reason,omitempty"`
	ArchivedAt        time.Time `json:"archived_at"`

	Approvals []archiveApproval `json:"approvals"`
}

type archiveApproval struct {
	Guardian   string    `json:"guardian"`
	ApprovedAt time.Time `json:"approved_at"`
	Signature  []byte    `json:"signature"`
}

// archiveRequest writes a terminal request to the archive store and records
// the blob on the request row.
func (s *Sweeper) archiveRequest(ctx context.Context, req *interfaces.RecoveryRequest) error {
	record := archiveRecord{
		Request:           req.ID.String(),
		Owner:             req.Owner.String(),
		Initiator:         req.Initiator.String(),
		Status:            req.Status.String(),
		RequiredApprovals: req.RequiredApprovals,
		InitiatedAt:       req.InitiatedAt,
		ExpiresAt:         req.ExpiresAt,
		CompletedAt:       req.CompletedAt,
		DisputedBy:        req.DisputedBy,
		DisputeReason:     req.DisputeReason,
		ArchivedAt:        s.now().UTC(),
	}
	for _, approval := range req.Approvals {
		record.Approvals = append(record.Approvals, archiveApproval{
			Guardian:   approval.Guardian.String(),
			ApprovedAt: approval.ApprovedAt,
			Signature:  approval.Signature,
		})
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	id, err := s.archive.Store(ctx, data, interfaces.ArchiveType)
	if err != nil {
		return err
	}
	return s.store.MarkRequestArchived(ctx, req.ID, id)
}
