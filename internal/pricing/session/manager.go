// Package session keeps one pricing engine per open editing session.
package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/proposalpricing/internal/actorcontext"
	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
	auditdomain "github.com/smallbiznis/proposalpricing/internal/audit/domain"
	"github.com/smallbiznis/proposalpricing/internal/clock"
	"github.com/smallbiznis/proposalpricing/internal/config"
	"github.com/smallbiznis/proposalpricing/internal/discount/bundle"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	"github.com/smallbiznis/proposalpricing/internal/lock"
	"github.com/smallbiznis/proposalpricing/internal/observability/metrics"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	"github.com/smallbiznis/proposalpricing/internal/pricing/engine"
	proposaldomain "github.com/smallbiznis/proposalpricing/internal/proposal/domain"
	"github.com/smallbiznis/proposalpricing/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const bootstrapTimeout = 15 * time.Second

// Locker guards a proposal against concurrent editing sessions across
// instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	Lifecycle   fx.Lifecycle `optional:"true"`
	Log         *zap.Logger
	Clock       clock.Clock
	Pricing     *config.PricingConfigHolder
	Financing   financingdomain.Service
	Permissions permissiondomain.Service
	Approvals   approvaldomain.Service
	Proposals   proposaldomain.Service
	Audit       auditdomain.Service `optional:"true"`
	Locker      *lock.Locker        `optional:"true"`
	Metrics     *metrics.Metrics    `optional:"true"`
}

// OpenRequest starts a session, optionally for an existing proposal.
type OpenRequest struct {
	ProposalID   string `json:"proposalId"`
	CustomerName string `json:"customerName"`
}

type Session struct {
	ID         string
	ProposalID string
	UserID     string
	OpenedAt   time.Time
	Engine     *engine.Engine

	ready     chan struct{}
	cancel    context.CancelFunc
	lockKey   string
	lockToken string
}

// Ready is closed once financing plans and permissions are installed.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

type Manager struct {
	base        *zap.Logger
	log         *zap.Logger
	clock       clock.Clock
	pricing     *config.PricingConfigHolder
	financing   domain.FinancingCatalog
	permissions domain.PermissionSource
	approvals   domain.ApprovalSource
	proposals   domain.ProposalStore
	audit       domain.AuditSink
	locker      Locker
	metrics     *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	claims   map[string]string // proposal id -> session id

	detectorMu    sync.Mutex
	detector      *bundle.Detector
	detectorRules []config.BundleRuleConfig
}

func New(p Params) *Manager {
	m := NewManager(Options{
		Log:         p.Log,
		Clock:       p.Clock,
		Pricing:     p.Pricing,
		Financing:   p.Financing,
		Permissions: p.Permissions,
		Approvals:   p.Approvals,
		Proposals:   p.Proposals,
		Metrics:     p.Metrics,
	})
	if p.Audit != nil {
		m.audit = p.Audit
	}
	if p.Locker != nil {
		m.locker = p.Locker
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				m.CloseAll(ctx)
				return nil
			},
		})
	}
	return m
}

// Options builds a Manager without fx.
type Options struct {
	Log         *zap.Logger
	Clock       clock.Clock
	Pricing     *config.PricingConfigHolder
	Financing   domain.FinancingCatalog
	Permissions domain.PermissionSource
	Approvals   domain.ApprovalSource
	Proposals   domain.ProposalStore
	Audit       domain.AuditSink
	Locker      Locker
	Metrics     *metrics.Metrics
}

func NewManager(opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Pricing == nil {
		opts.Pricing = config.NewStaticPricingConfigHolder(config.DefaultPricingConfig())
	}
	return &Manager{
		base:        opts.Log,
		log:         opts.Log.Named("pricing.session"),
		clock:       opts.Clock,
		pricing:     opts.Pricing,
		financing:   opts.Financing,
		permissions: opts.Permissions,
		approvals:   opts.Approvals,
		proposals:   opts.Proposals,
		audit:       opts.Audit,
		locker:      opts.Locker,
		metrics:     opts.Metrics,
		sessions:    map[string]*Session{},
		claims:      map[string]string{},
	}
}

// Open creates a session and starts loading its collaborator data in the
// background. The returned session answers in degraded mode until Ready.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	cfg := m.pricing.Get()
	detector, err := m.detectorFor(cfg.BundleRules)
	if err != nil {
		return nil, err
	}

	proposalID := strings.TrimSpace(req.ProposalID)
	userID := ""
	if id, ok := actorcontext.UserIDFromContext(ctx); ok {
		userID = id.String()
	}

	sess := &Session{
		ID:         ulid.Make().String(),
		ProposalID: proposalID,
		UserID:     userID,
		OpenedAt:   m.clock.Now(),
		ready:      make(chan struct{}),
	}

	if proposalID != "" {
		if !m.claim(proposalID, sess.ID) {
			return nil, domain.ErrSessionLocked
		}
		if err := m.acquire(ctx, sess, cfg.SessionLockTTL); err != nil {
			m.unclaim(proposalID, sess.ID)
			return nil, err
		}
	}

	log := m.log.With(zap.String("session_id", sess.ID))
	sess.Engine = engine.New(engine.Options{
		SessionID:    sess.ID,
		ProposalID:   proposalID,
		CustomerName: strings.TrimSpace(req.CustomerName),
		UserID:       userID,
		Config:       cfg,
		Detector:     detector,
		Approvals:    m.approvals,
		Proposals:    m.proposals,
		Audit:        m.audit,
		Log:          m.base,
		Clock:        m.clock,
		Metrics:      m.metrics,
	})

	lifetime, cancel := context.WithCancel(correlation.DetachedContext(ctx))
	sess.cancel = cancel

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	m.metrics.SessionOpened(ctx)

	go m.bootstrap(lifetime, sess)
	if sess.lockToken != "" {
		go m.keepLock(lifetime, sess, cfg.SessionLockTTL)
	}

	log.Info("pricing session opened", zap.String("proposal_id", proposalID), zap.Bool("anonymous", userID == ""))
	return sess, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops a session's engine and releases its proposal lock.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[strings.TrimSpace(id)]
	if ok {
		delete(m.sessions, sess.ID)
		if sess.ProposalID != "" && m.claims[sess.ProposalID] == sess.ID {
			delete(m.claims, sess.ProposalID)
		}
	}
	m.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	sess.cancel()
	sess.Engine.Close()
	if sess.lockToken != "" {
		if err := m.locker.Release(ctx, sess.lockKey, sess.lockToken); err != nil {
			m.log.Warn("release session lock failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	m.metrics.SessionClosed(ctx)
	m.log.Info("pricing session closed", zap.String("session_id", sess.ID))
	return nil
}

func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Close(ctx, id)
	}
}

// CloseIdle closes every session with no committed change since cutoff and
// returns how many were closed.
func (m *Manager) CloseIdle(ctx context.Context, cutoff time.Time) int {
	m.mu.RLock()
	idle := make([]string, 0)
	for id, sess := range m.sessions {
		last := sess.OpenedAt
		if updated := sess.Engine.Snapshot().UpdatedAt; updated.After(last) {
			last = updated
		}
		if last.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	closed := 0
	for _, id := range idle {
		if err := m.Close(ctx, id); err == nil {
			closed++
		}
	}
	return closed
}

func (m *Manager) bootstrap(ctx context.Context, sess *Session) {
	defer close(sess.ready)

	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()
	if sess.UserID != "" {
		if id, err := parseUser(sess.UserID); err == nil {
			ctx = actorcontext.WithUserID(ctx, id)
		}
	}

	var (
		plans    []financingdomain.FinancingPlan
		perms    *permissiondomain.Permissions
		permsErr error
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		if m.financing == nil {
			return nil
		}
		loaded, err := m.financing.GetActiveFinancingPlans(ctx)
		if err != nil {
			return fmt.Errorf("load financing plans: %w", err)
		}
		plans = loaded
		return nil
	})
	g.Go(func() error {
		switch {
		case sess.UserID == "":
			permsErr = nil
		case m.permissions == nil:
			permsErr = domain.ErrPermissionUnavailable
		default:
			loaded, err := m.permissions.GetUserPermissions(ctx, sess.UserID)
			if err != nil {
				permsErr = fmt.Errorf("%w: %w", domain.ErrPermissionUnavailable, err)
				return nil
			}
			perms = loaded
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		m.log.Warn("financing plans unavailable", zap.String("session_id", sess.ID), zap.Error(err))
	}

	if _, err := sess.Engine.Install(ctx, engine.Bootstrap{
		Plans:          plans,
		Permissions:    perms,
		PermissionsErr: permsErr,
	}); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		m.log.Warn("install session data failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

// detectorFor compiles the bundle rules once per distinct rule set.
func (m *Manager) detectorFor(rules []config.BundleRuleConfig) (*bundle.Detector, error) {
	m.detectorMu.Lock()
	defer m.detectorMu.Unlock()

	if m.detector != nil && reflect.DeepEqual(m.detectorRules, rules) {
		return m.detector, nil
	}
	detector, err := bundle.NewDetector(rules)
	if err != nil {
		return nil, err
	}
	m.detector = detector
	m.detectorRules = append([]config.BundleRuleConfig(nil), rules...)
	return detector, nil
}

// claim reserves proposalID for sessionID. It fails while another session
// on this instance holds the proposal.
func (m *Manager) claim(proposalID, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.claims[proposalID]; taken {
		return false
	}
	m.claims[proposalID] = sessionID
	return true
}

func (m *Manager) unclaim(proposalID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[proposalID] == sessionID {
		delete(m.claims, proposalID)
	}
}
