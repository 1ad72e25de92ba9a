package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	proposaldomain "github.com/smallbiznis/proposalpricing/internal/proposal/domain"
	"go.uber.org/zap"
)

var errStoreNotConfigured = errors.New("store not configured")

// SubmitApproval sends the pending change to a manager and starts polling
// for the decision. A proposal draft is created first when the session has
// none; its id is kept even when the request itself fails.
func (e *Engine) SubmitApproval(ctx context.Context, notes string) (domain.Outcome, error) {
	notes = strings.TrimSpace(notes)
	return e.do(ctx, "submit_approval", func(ctx context.Context) (domain.Outcome, error) {
		current := e.state
		if current.Approval.Phase != domain.GatePending || current.Approval.Pending == nil {
			return domain.Outcome{}, domain.ErrNoPendingChange
		}
		if current.Approval.Submitted {
			return domain.Outcome{}, domain.ErrAlreadySubmitted
		}
		if e.approvals == nil {
			return domain.Outcome{}, persistenceError("create approval request", errStoreNotConfigured)
		}

		actor := e.actor(ctx)
		working := current.Clone()
		if err := e.ensureProposal(ctx, &working, actor); err != nil {
			return domain.Outcome{}, err
		}

		pending := *working.Approval.Pending
		requested := working.Clone()
		if err := applyChange(&requested, pending); err != nil {
			return domain.Outcome{}, err
		}
		requested = e.derive(requested)

		req, err := e.approvals.CreateApprovalRequest(ctx, approvaldomain.CreateRequest{
			ProposalID:       working.ProposalID,
			RequestorID:      pending.RequestedBy,
			OriginalValue:    pending.OriginalValue,
			RequestedValue:   pending.RequestedValue,
			DiscountPercent:  pending.DiscountPercent,
			RequestNotes:     notes,
			DiscountSnapshot: discountSnapshot(requested),
		})
		if err != nil {
			if working.ProposalID != current.ProposalID {
				e.commit(working, actor)
			}
			return domain.Outcome{}, persistenceError("create approval request", err)
		}

		working.Approval.RequestID = req.ID.String()
		working.Approval.Submitted = true
		committed := e.commit(working, actor)
		e.startPolling(committed.Approval.RequestID)

		e.log.Info("approval requested",
			zap.String("approval_request_id", committed.Approval.RequestID),
			zap.String("proposal_id", committed.ProposalID),
		)
		return domain.Outcome{Kind: domain.OutcomeApprovalSubmitted, State: committed.Clone()}, nil
	})
}

// CancelPendingApproval drops the held change and stops polling.
func (e *Engine) CancelPendingApproval(ctx context.Context) (domain.Outcome, error) {
	return e.do(ctx, "cancel_approval", func(ctx context.Context) (domain.Outcome, error) {
		if e.state.Approval.Phase != domain.GatePending {
			return domain.Outcome{}, domain.ErrNoPendingChange
		}
		e.stopPolling()

		next := e.state.Clone()
		next.Approval = domain.ApprovalState{
			Phase:       domain.GateIdle,
			LastOutcome: domain.GateCancelled,
		}
		committed := e.commit(next, e.actor(ctx))
		e.metrics.RecordApprovalOutcome(ctx, string(domain.GateCancelled))
		return domain.Outcome{Kind: domain.OutcomeApprovalCancelled, State: committed.Clone()}, nil
	})
}

// RefreshApproval checks the submitted request once and applies a final
// decision. A still pending request returns the current state.
func (e *Engine) RefreshApproval(ctx context.Context) (domain.Outcome, error) {
	snapshot := e.Snapshot()
	if snapshot.Approval.Phase != domain.GatePending || !snapshot.Approval.Submitted {
		return domain.Outcome{}, domain.ErrNoPendingChange
	}
	if e.approvals == nil {
		return domain.Outcome{}, persistenceError("get approval status", errStoreNotConfigured)
	}

	status, err := e.approvals.GetApprovalRequestStatus(ctx, snapshot.Approval.RequestID)
	if err != nil {
		return domain.Outcome{}, persistenceError("get approval status", err)
	}
	if !status.Status.Terminal() {
		return domain.Outcome{Kind: domain.OutcomeApprovalSubmitted, State: snapshot}, nil
	}
	return e.resolve(ctx, status)
}

// resolve applies a manager decision through the queue. Decisions for a
// request that is no longer pending are ignored.
func (e *Engine) resolve(ctx context.Context, status *approvaldomain.StatusResult) (domain.Outcome, error) {
	return e.do(ctx, "resolve_approval", func(ctx context.Context) (domain.Outcome, error) {
		current := e.state
		if current.Approval.Phase != domain.GatePending || current.Approval.Pending == nil ||
			current.Approval.RequestID != status.ID {
			return domain.Outcome{}, domain.ErrNoPendingChange
		}
		e.stopPolling()

		pending := *current.Approval.Pending
		resolved := domain.ApprovalState{
			Phase:        domain.GateIdle,
			ApproverName: status.ApproverName,
			Notes:        status.Notes,
		}

		if status.Status == approvaldomain.StatusApproved {
			next := current.Clone()
			if err := applyChange(&next, pending); err != nil {
				return e.rejectUnapplicable(ctx, current, resolved, pending, status.ID, err)
			}
			resolved.LastOutcome = domain.GateApproved
			next.Approval = resolved
			committed := e.commit(e.derive(next), pending.RequestedBy)
			e.metrics.RecordApprovalOutcome(ctx, string(domain.GateApproved))
			e.log.Info("approved discount applied", zap.String("approval_request_id", status.ID))
			return domain.Outcome{Kind: domain.OutcomeApprovalApproved, State: committed.Clone(), Message: status.Notes}, nil
		}

		next := current.Clone()
		resolved.LastOutcome = domain.GateRejected
		next.Approval = resolved
		committed := e.commit(next, pending.RequestedBy)
		e.metrics.RecordApprovalOutcome(ctx, string(domain.GateRejected))
		e.log.Info("discount request rejected", zap.String("approval_request_id", status.ID))
		return domain.Outcome{Kind: domain.OutcomeApprovalRejected, State: committed.Clone(), Message: status.Notes}, nil
	})
}

// rejectUnapplicable closes an approved request whose change no longer
// applies to the current state. The gate ends as rejected so the session
// never stays pending without a poller.
func (e *Engine) rejectUnapplicable(ctx context.Context, current domain.State, resolved domain.ApprovalState, pending domain.PendingChange, requestID string, cause error) (domain.Outcome, error) {
	next := current.Clone()
	resolved.LastOutcome = domain.GateRejected
	resolved.Notes = fmt.Sprintf("approved change could not be applied: %v", cause)
	next.Approval = resolved
	committed := e.commit(next, pending.RequestedBy)
	e.metrics.RecordApprovalOutcome(ctx, string(domain.GateRejected))
	e.log.Warn("approved discount could not be applied",
		zap.String("approval_request_id", requestID),
		zap.Error(cause),
	)
	return domain.Outcome{Kind: domain.OutcomeApprovalRejected, State: committed.Clone(), Message: resolved.Notes}, nil
}

// startPolling and stopPolling run on the actor goroutine only.
func (e *Engine) startPolling(requestID string) {
	e.stopPolling()
	ctx, cancel := context.WithCancel(e.lifetime)
	e.pollCancel = cancel
	go e.poll(ctx, requestID, e.cfg.ApprovalPollInterval)
}

func (e *Engine) stopPolling() {
	if e.pollCancel != nil {
		e.pollCancel()
		e.pollCancel = nil
	}
}

func (e *Engine) poll(ctx context.Context, requestID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := e.log.With(zap.String("approval_request_id", requestID))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := e.approvals.GetApprovalRequestStatus(ctx, requestID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("approval status check failed", zap.Error(err))
				continue
			}
			if !status.Status.Terminal() {
				continue
			}
			if _, err := e.resolve(e.lifetime, status); err != nil &&
				!errors.Is(err, domain.ErrNoPendingChange) &&
				!errors.Is(err, domain.ErrSessionClosed) {
				log.Warn("applying approval decision failed", zap.Error(err))
			}
			return
		}
	}
}

// Finalize persists the pricing snapshot and discount log and locks the
// session against further changes.
func (e *Engine) Finalize(ctx context.Context) (domain.Outcome, error) {
	return e.do(ctx, "finalize", func(ctx context.Context) (domain.Outcome, error) {
		current := e.state
		if current.Finalized {
			return domain.Outcome{}, domain.ErrFinalized
		}
		if current.Approval.Phase == domain.GatePending {
			return domain.Outcome{}, domain.ErrApprovalPending
		}
		if e.proposals == nil {
			return domain.Outcome{}, persistenceError("finalize proposal", errStoreNotConfigured)
		}

		actor := e.actor(ctx)
		working := current.Clone()
		if err := e.ensureProposal(ctx, &working, actor); err != nil {
			return domain.Outcome{}, err
		}

		final := working.Clone()
		final.Finalized = true
		_, err := e.proposals.FinalizeProposal(ctx, proposaldomain.FinalizeRequest{
			ID:          final.ProposalID,
			ActorID:     actor,
			Pricing:     final,
			DiscountLog: final.DiscountLog,
		})
		if err != nil {
			if working.ProposalID != current.ProposalID {
				e.commit(working, actor)
			}
			return domain.Outcome{}, persistenceError("finalize proposal", err)
		}

		committed := e.commit(final, actor)
		e.auditFinalize(ctx, committed, actor)
		return domain.Outcome{Kind: domain.OutcomeFinalized, State: committed.Clone()}, nil
	})
}

func (e *Engine) ensureProposal(ctx context.Context, s *domain.State, actor string) error {
	if s.ProposalID != "" {
		return nil
	}
	if e.proposals == nil {
		return persistenceError("save proposal", errStoreNotConfigured)
	}
	proposal, err := e.proposals.SaveOrUpdateProposal(ctx, proposaldomain.SaveRequest{
		CustomerName: s.CustomerName,
		CreatedBy:    actor,
		Pricing:      *s,
	})
	if err != nil {
		return persistenceError("save proposal", err)
	}
	s.ProposalID = proposal.ID.String()
	return nil
}

func (e *Engine) auditFinalize(ctx context.Context, s domain.State, actor string) {
	if e.audit == nil {
		return
	}
	var actorID *string
	if actor != "" {
		actorID = &actor
	}
	proposalID := s.ProposalID
	err := e.audit.AuditLog(ctx, actorID, "pricing.finalize", "proposal", &proposalID, map[string]any{
		"session_id":      s.SessionID,
		"subtotal":        s.Subtotal,
		"discount":        s.Discount,
		"total":           s.Total,
		"monthly_payment": s.MonthlyPayment,
		"version":         s.Version,
	})
	if err != nil {
		e.log.Warn("audit finalize failed", zap.Error(err))
	}
}

func discountSnapshot(s domain.State) []approvaldomain.DiscountSnapshotEntry {
	var out []approvaldomain.DiscountSnapshotEntry
	for _, t := range s.DiscountTypes {
		if !t.IsEnabled {
			continue
		}
		out = append(out, approvaldomain.DiscountSnapshotEntry{
			ID:       t.ID,
			Name:     t.Name,
			Category: string(t.Category),
			Amount:   t.Amount,
		})
	}
	if s.ManualOverride.Active {
		out = append(out, approvaldomain.DiscountSnapshotEntry{
			ID:       domain.LogTypeManualOverride,
			Name:     "Manual Discount",
			Category: "manual",
			Amount:   s.ManualOverride.Amount,
		})
	}
	return out
}
