package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/WangyangYe0512/Control-Simple/internal/ft"

	"go.uber.org/zap"
)

// ErrTimeout marks a reconciliation that ran out its hard ceiling
// without the predicate ever holding.
var ErrTimeout = errors.New("reconciliation timed out")

type Outcome int

const (
	Completed Outcome = iota
	TimedOut
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	Polls   int
	Err     error
}

type StatusClient interface {
	Status(ctx context.Context) ([]ft.Trade, error)
}

// AwaitCompletion polls the venue's status endpoint every interval
// until the predicate holds, the timeout elapses, or ctx is cancelled.
// A transport error on a single poll is retried on the next tick; the
// timeout is a hard ceiling regardless. Cancellation (a superseding
// plan) reports Failed with the context's cause.
func AwaitCompletion(ctx context.Context, client StatusClient, pred Predicate, timeout, interval time.Duration, log *zap.Logger) Result {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	polls := 0
	for {
		polls++
		trades, err := client.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Outcome: Failed, Polls: polls, Err: cause(ctx)}
			}
			if log != nil {
				log.Debug("status poll failed, retrying", zap.String("predicate", pred.String()), zap.Error(err))
			}
		} else if pred.Holds(trades) {
			return Result{Outcome: Completed, Polls: polls}
		}
		select {
		case <-ctx.Done():
			return Result{Outcome: Failed, Polls: polls, Err: cause(ctx)}
		case <-deadline.C:
			return Result{Outcome: TimedOut, Polls: polls, Err: ErrTimeout}
		case <-ticker.C:
		}
	}
}

func cause(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	return ctx.Err()
}
