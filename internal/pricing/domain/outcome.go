package domain

type OutcomeKind string

const (
	OutcomeApplied           OutcomeKind = "applied"
	OutcomeApprovalRequired  OutcomeKind = "approval_required"
	OutcomeApprovalSubmitted OutcomeKind = "approval_submitted"
	OutcomeApprovalApproved  OutcomeKind = "approval_approved"
	OutcomeApprovalRejected  OutcomeKind = "approval_rejected"
	OutcomeApprovalCancelled OutcomeKind = "approval_cancelled"
	OutcomeFinalized         OutcomeKind = "finalized"
)

// Outcome is the result of one engine operation. ApprovalRequired is not an
// error: the change is held and State is unchanged apart from Approval.
type Outcome struct {
	Kind    OutcomeKind `json:"outcome"`
	State   State       `json:"state"`
	Message string      `json:"message,omitempty"`
}
