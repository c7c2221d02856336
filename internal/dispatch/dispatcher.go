package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/WangyangYe0512/Control-Simple/internal/ft"
	"github.com/WangyangYe0512/Control-Simple/internal/metrics"
	"github.com/WangyangYe0512/Control-Simple/internal/reconcile"

	"go.uber.org/zap"
)

// ErrPartialExecution marks a plan whose steps did not all complete.
var ErrPartialExecution = errors.New("partial execution")

type StepStatus int

const (
	StepCompleted StepStatus = iota
	StepFailed
	StepTimedOut
	StepSkipped
)

func (s StepStatus) String() string {
	switch s {
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	case StepTimedOut:
		return "timed_out"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

type StepResult struct {
	Venue  Venue
	Action Action
	Status StepStatus
	Err    error
}

type PlanStatus int

const (
	PlanCompleted PlanStatus = iota
	PlanPartial
)

func (s PlanStatus) String() string {
	if s == PlanCompleted {
		return "completed"
	}
	return "partial"
}

type PlanResult struct {
	PlanID string
	Status PlanStatus
	Steps  []StepResult
}

// VenueClient is the slice of the freqtrade API a dispatch step needs.
type VenueClient interface {
	Status(ctx context.Context) ([]ft.Trade, error)
	ForceEnter(ctx context.Context, pair, side string, stake float64) error
	ForceExit(ctx context.Context, tradeID string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Dispatcher executes plans against the two venues, holding the venue
// leases for the plan's whole lifetime. Destructive calls are never
// retried; a failed step is reported and any retry must be a fresh
// command.
type Dispatcher struct {
	clients map[Venue]VenueClient
	leases  *Leases
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewDispatcher(clients map[Venue]VenueClient, leases *Leases, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Dispatcher{clients: clients, leases: leases, metrics: m, log: log}
}

func (d *Dispatcher) Execute(ctx context.Context, plan Plan) (PlanResult, error) {
	if len(plan.Steps) == 0 {
		return PlanResult{PlanID: plan.ID, Status: PlanCompleted}, nil
	}
	planCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	venues := plan.Venues()
	if err := d.leases.Acquire(plan.ID, cancel, venues, plan.Preempting); err != nil {
		return PlanResult{PlanID: plan.ID}, err
	}
	defer d.leases.Release(plan.ID, venues)

	d.log.Info("executing plan",
		zap.String("plan_id", plan.ID),
		zap.String("command", plan.Command),
		zap.Int("steps", len(plan.Steps)),
	)

	results := make([]StepResult, len(plan.Steps))
	if plan.Concurrent {
		var wg sync.WaitGroup
		for i, step := range plan.Steps {
			wg.Add(1)
			go func(i int, step Step) {
				defer wg.Done()
				results[i] = d.runStep(planCtx, plan, step)
			}(i, step)
		}
		wg.Wait()
	} else {
		failed := make(map[Venue]bool, 2)
		for i, step := range plan.Steps {
			if i > 0 && plan.Delay > 0 {
				if !sleepCtx(planCtx, plan.Delay) {
					results[i] = StepResult{Venue: step.Venue, Action: step.Action, Status: StepSkipped, Err: cause(planCtx)}
					continue
				}
			}
			// A failure aborts the rest of that venue's steps but not
			// the other venue's: independent failure domains.
			if failed[step.Venue] {
				results[i] = StepResult{Venue: step.Venue, Action: step.Action, Status: StepSkipped, Err: ErrPartialExecution}
				continue
			}
			if step.Requires >= 0 && results[step.Requires].Status != StepCompleted {
				results[i] = StepResult{Venue: step.Venue, Action: step.Action, Status: StepSkipped,
					Err: fmt.Errorf("%w: prerequisite step %d not completed", ErrPartialExecution, step.Requires)}
				failed[step.Venue] = true
				continue
			}
			results[i] = d.runStep(planCtx, plan, step)
			if results[i].Status != StepCompleted {
				failed[step.Venue] = true
			}
		}
	}

	status := PlanCompleted
	for _, res := range results {
		if res.Status != StepCompleted {
			status = PlanPartial
			break
		}
	}
	d.log.Info("plan finished", zap.String("plan_id", plan.ID), zap.String("status", status.String()))
	return PlanResult{PlanID: plan.ID, Status: status, Steps: results}, nil
}

func (d *Dispatcher) runStep(ctx context.Context, plan Plan, step Step) StepResult {
	client, ok := d.clients[step.Venue]
	if !ok {
		return StepResult{Venue: step.Venue, Action: step.Action, Status: StepFailed,
			Err: fmt.Errorf("no client for venue %s", step.Venue)}
	}
	d.metrics.StepsExecuted.Inc()
	if err := d.issue(ctx, client, step); err != nil {
		d.metrics.StepsFailed.Inc()
		if errors.Is(err, ft.ErrUnreachable) {
			d.metrics.VenueUnreachable.Inc()
		}
		d.log.Warn("step failed",
			zap.String("plan_id", plan.ID),
			zap.String("venue", string(step.Venue)),
			zap.String("action", step.Action.Kind.String()),
			zap.Error(err),
		)
		return StepResult{Venue: step.Venue, Action: step.Action, Status: StepFailed, Err: err}
	}
	if step.Await == nil {
		return StepResult{Venue: step.Venue, Action: step.Action, Status: StepCompleted}
	}
	res := reconcile.AwaitCompletion(ctx, client, *step.Await, plan.PollTimeout, plan.PollInterval, d.log)
	switch res.Outcome {
	case reconcile.Completed:
		return StepResult{Venue: step.Venue, Action: step.Action, Status: StepCompleted}
	case reconcile.TimedOut:
		d.metrics.StepsFailed.Inc()
		d.metrics.ReconcileTimeouts.Inc()
		return StepResult{Venue: step.Venue, Action: step.Action, Status: StepTimedOut,
			Err: fmt.Errorf("%w: %s on %s after %d polls", reconcile.ErrTimeout, step.Await.String(), step.Venue, res.Polls)}
	default:
		d.metrics.StepsFailed.Inc()
		return StepResult{Venue: step.Venue, Action: step.Action, Status: StepFailed, Err: res.Err}
	}
}

// issue performs the single REST call for a step. ActionExitPair fans
// out to one forceexit per open trade on the pair, resolved from a
// fresh status read.
func (d *Dispatcher) issue(ctx context.Context, client VenueClient, step Step) error {
	switch step.Action.Kind {
	case ActionEnter:
		return client.ForceEnter(ctx, step.Action.Pair, step.Action.Side, step.Action.Stake)
	case ActionExitAll:
		return client.ForceExit(ctx, "all")
	case ActionExitPair:
		trades, err := client.Status(ctx)
		if err != nil {
			return err
		}
		for _, trade := range trades {
			if trade.Pair != step.Action.Pair {
				continue
			}
			if err := client.ForceExit(ctx, strconv.Itoa(trade.TradeID)); err != nil {
				return err
			}
		}
		return nil
	case ActionStart:
		return client.Start(ctx)
	case ActionStop:
		return client.Stop(ctx)
	default:
		return fmt.Errorf("unknown action %d", step.Action.Kind)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func cause(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	return ctx.Err()
}
