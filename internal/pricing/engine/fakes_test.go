package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
	"github.com/smallbiznis/proposalpricing/internal/clock"
	"github.com/smallbiznis/proposalpricing/internal/config"
	"github.com/smallbiznis/proposalpricing/internal/discount/bundle"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	proposaldomain "github.com/smallbiznis/proposalpricing/internal/proposal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store down")

type fakeApprovals struct {
	mu        sync.Mutex
	nextID    snowflake.ID
	created   []approvaldomain.CreateRequest
	statuses  map[string]*approvaldomain.StatusResult
	createErr error
}

func newFakeApprovals() *fakeApprovals {
	return &fakeApprovals{nextID: 9000, statuses: map[string]*approvaldomain.StatusResult{}}
}

func (f *fakeApprovals) CreateApprovalRequest(_ context.Context, req approvaldomain.CreateRequest) (*approvaldomain.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	id := f.nextID
	f.created = append(f.created, req)
	f.statuses[id.String()] = &approvaldomain.StatusResult{ID: id.String(), Status: approvaldomain.StatusPending}
	return &approvaldomain.ApprovalRequest{ID: id, Status: approvaldomain.StatusPending}, nil
}

func (f *fakeApprovals) GetApprovalRequestStatus(_ context.Context, id string) (*approvaldomain.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	if !ok {
		return nil, approvaldomain.ErrNotFound
	}
	out := *st
	return &out, nil
}

func (f *fakeApprovals) decide(id string, status approvaldomain.Status, approver, notes string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = &approvaldomain.StatusResult{ID: id, Status: status, ApproverName: approver, Notes: notes}
}

func (f *fakeApprovals) requests() []approvaldomain.CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]approvaldomain.CreateRequest(nil), f.created...)
}

type fakeProposals struct {
	mu          sync.Mutex
	nextID      snowflake.ID
	saved       int
	finalized   []proposaldomain.FinalizeRequest
	finalizeErr error
}

func (f *fakeProposals) SaveOrUpdateProposal(_ context.Context, req proposaldomain.SaveRequest) (*proposaldomain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved++
	f.nextID++
	if req.ID != "" {
		id, _ := snowflake.ParseString(req.ID)
		return &proposaldomain.Proposal{ID: id}, nil
	}
	return &proposaldomain.Proposal{ID: 500 + f.nextID, CustomerName: req.CustomerName}, nil
}

func (f *fakeProposals) FinalizeProposal(_ context.Context, req proposaldomain.FinalizeRequest) (*proposaldomain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	f.finalized = append(f.finalized, req)
	id, _ := snowflake.ParseString(req.ID)
	return &proposaldomain.Proposal{ID: id, Status: proposaldomain.StatusFinalized}, nil
}

type auditEntry struct {
	actorID  *string
	action   string
	targetID *string
	metadata map[string]any
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (f *fakeAudit) AuditLog(_ context.Context, actorID *string, action string, _ string, targetID *string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, auditEntry{actorID: actorID, action: action, targetID: targetID, metadata: metadata})
	return nil
}

type harness struct {
	engine    *Engine
	approvals *fakeApprovals
	proposals *fakeProposals
	audit     *fakeAudit
	clock     *clock.FakeClock
}

func newHarness(t *testing.T, mutate ...func(*config.PricingConfig)) *harness {
	t.Helper()

	cfg := config.DefaultPricingConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	detector, err := bundle.NewDetector(cfg.BundleRules)
	require.NoError(t, err)

	h := &harness{
		approvals: newFakeApprovals(),
		proposals: &fakeProposals{},
		audit:     &fakeAudit{},
		clock:     clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	h.engine = New(Options{
		SessionID:    "session-1",
		CustomerName: "Jordan Lee",
		UserID:       "42",
		Config:       cfg,
		Detector:     detector,
		Approvals:    h.approvals,
		Proposals:    h.proposals,
		Audit:        h.audit,
		Log:          zap.NewNop(),
		Clock:        h.clock,
	})
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) install(t *testing.T, maxPercent float64, plans ...financingdomain.FinancingPlan) {
	t.Helper()
	_, err := h.engine.Install(context.Background(), Bootstrap{
		Plans: plans,
		Permissions: &permissiondomain.Permissions{
			UserID:             "42",
			Role:               permissiondomain.RoleSales,
			MaxDiscountPercent: maxPercent,
		},
	})
	require.NoError(t, err)
}

func service(id string, price float64) domain.ServiceLine {
	return domain.ServiceLine{
		ServiceID:  id,
		Name:       id,
		Components: []domain.ComponentLine{{Name: id + " install", Quantity: 1, UnitPrice: price}},
	}
}

func (h *harness) setServices(t *testing.T, lines ...domain.ServiceLine) domain.State {
	t.Helper()
	out, err := h.engine.SetServices(context.Background(), lines)
	require.NoError(t, err)
	return out.State
}
