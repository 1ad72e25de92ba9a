package domain

import "errors"

var (
	ErrApprovalPending       = errors.New("approval_pending")
	ErrNoPendingChange       = errors.New("no_pending_change")
	ErrAlreadySubmitted      = errors.New("approval_already_submitted")
	ErrPermissionUnavailable = errors.New("permission_unavailable")
	ErrPersistence           = errors.New("persistence_failure")
	ErrRecomputeFailed       = errors.New("recompute_failed")
	ErrSessionClosed         = errors.New("session_closed")
	ErrSessionNotFound       = errors.New("session_not_found")
	ErrSessionLocked         = errors.New("session_locked")
	ErrUnknownPlan           = errors.New("unknown_financing_plan")
	ErrUnknownAdder          = errors.New("unknown_custom_adder")
	ErrDuplicateAdder        = errors.New("duplicate_custom_adder")
	ErrFinalized             = errors.New("proposal_finalized")
)
