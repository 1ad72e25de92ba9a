// Package engine runs one pricing session: a single goroutine drains a FIFO
// command queue, recomputes the aggregate after every mutation and publishes
// immutable snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/proposalpricing/internal/actorcontext"
	"github.com/smallbiznis/proposalpricing/internal/clock"
	"github.com/smallbiznis/proposalpricing/internal/config"
	"github.com/smallbiznis/proposalpricing/internal/discount/bundle"
	discountdomain "github.com/smallbiznis/proposalpricing/internal/discount/domain"
	"github.com/smallbiznis/proposalpricing/internal/financing/calculator"
	"github.com/smallbiznis/proposalpricing/internal/observability/metrics"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const queueSize = 64

// Options wires one engine. Approvals, Proposals and Audit may be nil; the
// operations needing them then fail with a persistence error.
type Options struct {
	SessionID    string
	ProposalID   string
	CustomerName string
	UserID       string

	Config    config.PricingConfig
	Detector  *bundle.Detector
	Approvals domain.ApprovalSource
	Proposals domain.ProposalStore
	Audit     domain.AuditSink

	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

type result struct {
	outcome domain.Outcome
	err     error
}

type command struct {
	ctx   context.Context
	name  string
	fn    func(ctx context.Context) (domain.Outcome, error)
	reply chan result
	stop  bool
}

type Engine struct {
	cfg       config.PricingConfig
	userID    string
	detector  *bundle.Detector
	approvals domain.ApprovalSource
	proposals domain.ProposalStore
	audit     domain.AuditSink
	log       *zap.Logger
	clock     clock.Clock
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	// state is owned by the actor goroutine.
	state      domain.State
	pollCancel context.CancelFunc

	published atomic.Pointer[domain.State]
	subMu     sync.Mutex
	subs      map[int]chan domain.State
	nextSub   int

	commands  chan command
	done      chan struct{}
	closeOnce sync.Once
	lifetime  context.Context
	cancel    context.CancelFunc
}

// New builds the initial state in degraded mode and starts the actor.
func New(opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("pricing.engine")
	}
	if opts.Config.ApprovalPollInterval <= 0 {
		opts.Config.ApprovalPollInterval = config.DefaultPricingConfig().ApprovalPollInterval
	}

	lifetime, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       opts.Config,
		userID:    opts.UserID,
		detector:  opts.Detector,
		approvals: opts.Approvals,
		proposals: opts.Proposals,
		audit:     opts.Audit,
		log:       opts.Log.Named("pricing.engine").With(zap.String("session_id", opts.SessionID)),
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		subs:      map[int]chan domain.State{},
		commands:  make(chan command, queueSize),
		done:      make(chan struct{}),
		lifetime:  lifetime,
		cancel:    cancel,
	}

	initial := domain.State{
		SessionID:     opts.SessionID,
		ProposalID:    opts.ProposalID,
		CustomerName:  opts.CustomerName,
		DiscountTypes: discountdomain.Catalog(),
		FinancingTerms: calculator.Terms{
			TermMonths:   opts.Config.DefaultTermMonths,
			InterestRate: opts.Config.DefaultInterestRate,
		},
		Permissions: e.degradedPermissions(),
		Approval:    domain.ApprovalState{Phase: domain.GateIdle},
	}
	initial = e.derive(initial)
	initial.Status = domain.StatusIdle
	initial.Version = 1
	initial.UpdatedAt = e.clock.Now()
	e.state = initial
	e.publish(initial)

	go e.run()
	return e
}

func (e *Engine) run() {
	for cmd := range e.commands {
		if cmd.stop {
			e.stopPolling()
			e.cancel()
			close(e.done)
			return
		}
		outcome, err := e.execute(cmd)
		cmd.reply <- result{outcome: outcome, err: err}
	}
}

// execute runs one command. A panic restores the last good state.
func (e *Engine) execute(cmd command) (outcome domain.Outcome, err error) {
	start := time.Now()
	prev := e.state.Clone()
	e.state.Status = domain.StatusRecomputing

	defer func() {
		if r := recover(); r != nil {
			e.state = prev
			err = fmt.Errorf("%w: %s: %v", domain.ErrRecomputeFailed, cmd.name, r)
			e.log.Error("pricing command panicked", zap.String("operation", cmd.name), zap.Any("panic", r))
		}
		if e.state.Status == domain.StatusRecomputing {
			e.state.Status = restingStatus(e.state)
		}
		e.metrics.RecordRecompute(cmd.ctx, cmd.name, time.Since(start), err != nil)
	}()

	return cmd.fn(cmd.ctx)
}

// do enqueues fn and waits for its result.
func (e *Engine) do(ctx context.Context, name string, fn func(ctx context.Context) (domain.Outcome, error)) (domain.Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := e.tracer.Start(ctx, "pricing."+name, trace.WithAttributes(attribute.String("operation", name)))
	defer span.End()

	cmd := command{ctx: ctx, name: name, fn: fn, reply: make(chan result, 1)}
	select {
	case e.commands <- cmd:
	case <-e.done:
		return domain.Outcome{}, domain.ErrSessionClosed
	case <-ctx.Done():
		return domain.Outcome{}, ctx.Err()
	}

	var res result
	select {
	case res = <-cmd.reply:
	case <-e.done:
		select {
		case res = <-cmd.reply:
		default:
			return domain.Outcome{}, domain.ErrSessionClosed
		}
	case <-ctx.Done():
		return domain.Outcome{}, ctx.Err()
	}

	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	} else {
		span.SetAttributes(attribute.String("outcome", string(res.outcome.Kind)))
	}
	return res.outcome, res.err
}

// Close stops polling, drains queued commands and stops the actor. It is
// safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.commands <- command{stop: true}
	})
	<-e.done
}

// Done is closed once the engine has stopped.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Snapshot returns the last published state.
func (e *Engine) Snapshot() domain.State {
	return e.published.Load().Clone()
}

// Subscribe returns a channel receiving every published snapshot. Slow
// readers only see the latest one.
func (e *Engine) Subscribe() (<-chan domain.State, func()) {
	ch := make(chan domain.State, 1)
	ch <- e.Snapshot()

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) publish(s domain.State) {
	snapshot := s.Clone()
	e.published.Store(&snapshot)

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot.Clone()
	}
}

func (e *Engine) degradedPermissions() domain.Permissions {
	return domain.Permissions{
		UserID:             e.userID,
		MaxDiscountPercent: e.cfg.DefaultMaxDiscountPercent,
		Degraded:           true,
	}
}

// actor resolves the user a change is attributed to.
func (e *Engine) actor(ctx context.Context) string {
	if id, ok := actorcontext.UserIDFromContext(ctx); ok {
		return id.String()
	}
	return e.userID
}

func restingStatus(s domain.State) domain.Status {
	if s.Approval.Phase == domain.GatePending {
		return domain.StatusAwaitingApproval
	}
	return domain.StatusIdle
}

func persistenceError(op string, err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}
