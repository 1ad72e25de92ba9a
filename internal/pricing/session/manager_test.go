package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/proposalpricing/internal/actorcontext"
	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
	"github.com/smallbiznis/proposalpricing/internal/clock"
	"github.com/smallbiznis/proposalpricing/internal/config"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	proposaldomain "github.com/smallbiznis/proposalpricing/internal/proposal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCatalog struct {
	plans []financingdomain.FinancingPlan
	err   error
}

func (f *fakeCatalog) GetActiveFinancingPlans(context.Context) ([]financingdomain.FinancingPlan, error) {
	return f.plans, f.err
}

type fakePermissions struct {
	users map[string]*permissiondomain.Permissions
	err   error
}

func (f *fakePermissions) GetUserPermissions(_ context.Context, userID string) (*permissiondomain.Permissions, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.users[userID]
	if !ok {
		return nil, permissiondomain.ErrNotFound
	}
	return p, nil
}

type nopApprovals struct{}

func (nopApprovals) CreateApprovalRequest(context.Context, approvaldomain.CreateRequest) (*approvaldomain.ApprovalRequest, error) {
	return &approvaldomain.ApprovalRequest{ID: 1}, nil
}

func (nopApprovals) GetApprovalRequestStatus(_ context.Context, id string) (*approvaldomain.StatusResult, error) {
	return &approvaldomain.StatusResult{ID: id, Status: approvaldomain.StatusPending}, nil
}

type nopProposals struct{}

func (nopProposals) SaveOrUpdateProposal(context.Context, proposaldomain.SaveRequest) (*proposaldomain.Proposal, error) {
	return &proposaldomain.Proposal{ID: 1}, nil
}

func (nopProposals) FinalizeProposal(context.Context, proposaldomain.FinalizeRequest) (*proposaldomain.Proposal, error) {
	return &proposaldomain.Proposal{ID: 1}, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	released []string
	err      error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (f *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	if _, ok := f.held[key]; ok {
		return "", false, nil
	}
	token := "token-" + key
	f.held[key] = token
	return token, true, nil
}

func (f *fakeLocker) Refresh(context.Context, string, string, time.Duration) error {
	return nil
}

func (f *fakeLocker) Release(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] == token {
		delete(f.held, key)
	}
	f.released = append(f.released, key)
	return nil
}

func newTestManager(t *testing.T, catalog *fakeCatalog, perms *fakePermissions, locker Locker) *Manager {
	t.Helper()
	m := NewManager(Options{
		Log:         zap.NewNop(),
		Pricing:     config.NewStaticPricingConfigHolder(config.DefaultPricingConfig()),
		Financing:   catalog,
		Permissions: perms,
		Approvals:   nopApprovals{},
		Proposals:   nopProposals{},
		Locker:      locker,
	})
	t.Cleanup(func() { m.CloseAll(context.Background()) })
	return m
}

func waitReady(t *testing.T, sess *Session) domain.State {
	t.Helper()
	select {
	case <-sess.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session bootstrap timed out")
	}
	return sess.Engine.Snapshot()
}

func userContext(id int64) context.Context {
	return actorcontext.WithUserID(context.Background(), snowflake.ID(id))
}

func TestOpen_InstallsPlansAndPermissions(t *testing.T) {
	catalog := &fakeCatalog{plans: []financingdomain.FinancingPlan{{ID: 11, Provider: "GreenSky", PaymentFactor: 2.1}}}
	perms := &fakePermissions{users: map[string]*permissiondomain.Permissions{
		"42": {UserID: "42", Role: permissiondomain.RoleManager, MaxDiscountPercent: 30, CanApproveDiscounts: true},
	}}
	m := newTestManager(t, catalog, perms, nil)

	sess, err := m.Open(userContext(42), OpenRequest{CustomerName: " Jordan Lee "})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "42", sess.UserID)

	s := waitReady(t, sess)
	assert.Equal(t, "Jordan Lee", s.CustomerName)
	assert.False(t, s.Permissions.Degraded)
	assert.Equal(t, 30.0, s.Permissions.MaxDiscountPercent)
	assert.True(t, s.Permissions.CanApproveDiscounts)
	require.Len(t, s.FinancingPlans, 1)
	assert.Equal(t, 1, m.Len())
}

func TestOpen_PermissionFailureDegrades(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{err: errors.New("db down")}, &fakePermissions{err: errors.New("timeout")}, nil)

	sess, err := m.Open(userContext(42), OpenRequest{})
	require.NoError(t, err)

	s := waitReady(t, sess)
	assert.True(t, s.Permissions.Degraded)
	assert.Equal(t, 10.0, s.Permissions.MaxDiscountPercent)
	assert.Empty(t, s.FinancingPlans)
}

func TestOpen_AnonymousRunsDegraded(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{}, &fakePermissions{}, nil)

	sess, err := m.Open(context.Background(), OpenRequest{})
	require.NoError(t, err)
	assert.Empty(t, sess.UserID)
	assert.True(t, waitReady(t, sess).Permissions.Degraded)
}

func TestOpen_OneSessionPerProposal(t *testing.T) {
	locker := newFakeLocker()
	m := newTestManager(t, &fakeCatalog{}, &fakePermissions{}, locker)

	first, err := m.Open(context.Background(), OpenRequest{ProposalID: "1234"})
	require.NoError(t, err)
	assert.Equal(t, "1234", first.Engine.Snapshot().ProposalID)

	_, err = m.Open(context.Background(), OpenRequest{ProposalID: "1234"})
	assert.ErrorIs(t, err, domain.ErrSessionLocked)

	require.NoError(t, m.Close(context.Background(), first.ID))
	assert.Equal(t, []string{"proposalpricing:session:1234"}, locker.released)

	_, err = m.Open(context.Background(), OpenRequest{ProposalID: "1234"})
	require.NoError(t, err)
}

func TestOpen_ConcurrentOpensClaimProposalOnce(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{}, &fakePermissions{}, nil)

	for round := 0; round < 50; round++ {
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			opened []*Session
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sess, err := m.Open(context.Background(), OpenRequest{ProposalID: "1234"})
				if err != nil {
					assert.ErrorIs(t, err, domain.ErrSessionLocked)
					return
				}
				mu.Lock()
				opened = append(opened, sess)
				mu.Unlock()
			}()
		}
		wg.Wait()

		require.Len(t, opened, 1, "round %d", round)
		require.NoError(t, m.Close(context.Background(), opened[0].ID))
	}
	assert.Zero(t, m.Len())
}

func TestOpen_LockHeldElsewhere(t *testing.T) {
	locker := newFakeLocker()
	locker.held["proposalpricing:session:99"] = "other-instance"
	m := newTestManager(t, &fakeCatalog{}, &fakePermissions{}, locker)

	_, err := m.Open(context.Background(), OpenRequest{ProposalID: "99"})
	assert.ErrorIs(t, err, domain.ErrSessionLocked)
	assert.Zero(t, m.Len())

	delete(locker.held, "proposalpricing:session:99")
	_, err = m.Open(context.Background(), OpenRequest{ProposalID: "99"})
	require.NoError(t, err)
}

func TestOpen_LockerErrorDoesNotBlock(t *testing.T) {
	locker := newFakeLocker()
	locker.err = errors.New("connection refused")
	m := newTestManager(t, &fakeCatalog{}, &fakePermissions{}, locker)

	_, err := m.Open(context.Background(), OpenRequest{ProposalID: "99"})
	require.NoError(t, err)
}

func TestClose(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{}, &fakePermissions{}, nil)
	sess, err := m.Open(context.Background(), OpenRequest{})
	require.NoError(t, err)
	waitReady(t, sess)

	require.NoError(t, m.Close(context.Background(), sess.ID))
	_, err = m.Get(sess.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(context.Background(), sess.ID), domain.ErrSessionNotFound)

	_, err = sess.Engine.ResetManualDiscount(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestCloseAll(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{}, &fakePermissions{}, nil)
	for i := 0; i < 3; i++ {
		_, err := m.Open(context.Background(), OpenRequest{})
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Len())

	m.CloseAll(context.Background())
	assert.Zero(t, m.Len())
}

func TestDetectorFor_CachesPerRuleSet(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{}, &fakePermissions{}, nil)
	rules := config.DefaultPricingConfig().BundleRules

	first, err := m.detectorFor(rules)
	require.NoError(t, err)
	second, err := m.detectorFor(config.DefaultPricingConfig().BundleRules)
	require.NoError(t, err)
	assert.Same(t, first, second)

	changed := append([]config.BundleRuleConfig(nil), rules...)
	changed[0].Percent = 7
	third, err := m.detectorFor(changed)
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	_, err = m.detectorFor([]config.BundleRuleConfig{{ID: "bad", Condition: "services +"}})
	assert.Error(t, err)
}

func TestCloseIdle_ClosesStaleSessions(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	m := NewManager(Options{
		Log:         zap.NewNop(),
		Clock:       clk,
		Financing:   &fakeCatalog{},
		Permissions: &fakePermissions{},
		Approvals:   nopApprovals{},
		Proposals:   nopProposals{},
	})
	t.Cleanup(func() { m.CloseAll(context.Background()) })

	stale, err := m.Open(context.Background(), OpenRequest{})
	require.NoError(t, err)
	waitReady(t, stale)

	clk.Advance(3 * time.Hour)
	fresh, err := m.Open(context.Background(), OpenRequest{})
	require.NoError(t, err)
	waitReady(t, fresh)

	closed := m.CloseIdle(context.Background(), clk.Now().Add(-time.Hour))
	assert.Equal(t, 1, closed)

	_, err = m.Get(stale.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = m.Get(fresh.ID)
	assert.NoError(t, err)
}
