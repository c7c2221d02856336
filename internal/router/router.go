package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/WangyangYe0512/Control-Simple/internal/arm"
	"github.com/WangyangYe0512/Control-Simple/internal/basket"
	"github.com/WangyangYe0512/Control-Simple/internal/dispatch"
	"github.com/WangyangYe0512/Control-Simple/internal/ft"
	"github.com/WangyangYe0512/Control-Simple/internal/metrics"
	"github.com/WangyangYe0512/Control-Simple/internal/state"

	"go.uber.org/zap"
)

// Executor runs a plan to completion. Satisfied by dispatch.Dispatcher.
type Executor interface {
	Execute(ctx context.Context, plan dispatch.Plan) (dispatch.PlanResult, error)
}

// VenueReader is the read-only slice of a venue client used by the
// status and balance commands.
type VenueReader interface {
	Status(ctx context.Context) ([]ft.Trade, error)
	Balance(ctx context.Context) (ft.Balance, error)
	Count(ctx context.Context) (ft.Count, error)
}

// Router authorizes, sequences and executes chat commands. Every
// command passes the same pipeline: sender allow list, argument
// validation, arm gate for destructive kinds, then dispatch.
type Router struct {
	admins   map[int64]struct{}
	gate     *arm.Gate
	basket   *basket.Store
	exec     Executor
	venues   map[dispatch.Venue]VenueReader
	defaults dispatch.Defaults
	kv       state.Store
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	stakeMu sync.Mutex
	stake   float64
}

type Config struct {
	Admins       []int64
	Gate         *arm.Gate
	Basket       *basket.Store
	Executor     Executor
	Venues       map[dispatch.Venue]VenueReader
	Defaults     dispatch.Defaults
	DefaultStake float64
	KV           state.Store
	Metrics      *metrics.Metrics
	Log          *zap.Logger
}

func New(cfg Config) *Router {
	admins := make(map[int64]struct{}, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = struct{}{}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Router{
		admins:   admins,
		gate:     cfg.Gate,
		basket:   cfg.Basket,
		exec:     cfg.Executor,
		venues:   cfg.Venues,
		defaults: cfg.Defaults,
		kv:       cfg.KV,
		metrics:  m,
		log:      cfg.Log,
		now:      time.Now,
		stake:    cfg.DefaultStake,
	}
}

// Handle runs one command and returns the reply text. Rejections come
// back as errors; the caller decides how (or whether) to surface them.
func (r *Router) Handle(ctx context.Context, cmd Command) (string, error) {
	// Start and Help are the only commands open to anyone in the chat.
	if cmd.Kind != KindStart && cmd.Kind != KindHelp {
		if _, ok := r.admins[cmd.IssuerID]; !ok {
			r.metrics.CommandsRejected.Inc()
			r.log.Warn("rejected command from unknown sender",
				zap.Int64("user_id", cmd.IssuerID),
				zap.String("command", cmd.Kind.String()),
			)
			return "", fmt.Errorf("%w: user %d", ErrUnauthorized, cmd.IssuerID)
		}
	}
	if cmd.Kind.Destructive() {
		if err := r.gate.Check(r.issuedAt(cmd), true); err != nil {
			r.metrics.CommandsRejected.Inc()
			return "", fmt.Errorf("%s rejected: %w", cmd.Kind, err)
		}
	}
	r.metrics.CommandsHandled.Inc()
	r.log.Info("handling command",
		zap.String("command", cmd.Kind.String()),
		zap.Int64("user_id", cmd.IssuerID),
	)

	switch cmd.Kind {
	case KindStart, KindHelp:
		return helpText(), nil
	case KindShowBasket:
		return r.renderBasket(), nil
	case KindSetBasket:
		return r.setBasket(ctx, cmd.Pairs)
	case KindSetStake:
		return r.setStake(cmd.Stake), nil
	case KindStatus:
		return r.renderStatus(ctx), nil
	case KindBalance:
		return r.renderBalance(ctx), nil
	case KindArm:
		expires := r.gate.RequestArm(cmd.IssuerID, r.issuedAt(cmd))
		if !r.gate.Required() {
			return "arming is disabled: destructive commands run without it", nil
		}
		return fmt.Sprintf("armed until %s (one destructive command)", expires.UTC().Format(time.RFC3339)), nil
	case KindDisarm:
		r.gate.Disarm()
		return "disarmed", nil
	case KindGoLong:
		return r.runEntry(ctx, cmd, dispatch.VenueLong)
	case KindGoShort:
		return r.runEntry(ctx, cmd, dispatch.VenueShort)
	case KindFlat:
		return r.runPlan(ctx, cmd, dispatch.NewFlattenPlan(r.defaults))
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
	}
}

func (r *Router) issuedAt(cmd Command) time.Time {
	if !cmd.At.IsZero() {
		return cmd.At
	}
	return r.now()
}

func (r *Router) setBasket(ctx context.Context, pairs []string) (string, error) {
	if err := r.basket.Replace(ctx, pairs); err != nil {
		r.metrics.CommandsRejected.Inc()
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return r.renderBasket(), nil
}

func (r *Router) setStake(stake float64) string {
	r.stakeMu.Lock()
	r.stake = stake
	r.stakeMu.Unlock()
	return fmt.Sprintf("stake set to %.2f", stake)
}

func (r *Router) currentStake() float64 {
	r.stakeMu.Lock()
	defer r.stakeMu.Unlock()
	return r.stake
}

func (r *Router) runEntry(ctx context.Context, cmd Command, target dispatch.Venue) (string, error) {
	pairs := r.basket.Snapshot()
	if len(pairs) == 0 {
		return "", fmt.Errorf("%w: basket is empty", ErrInvalidArguments)
	}
	return r.runPlan(ctx, cmd, dispatch.NewEntryPlan(target, pairs, r.currentStake(), r.defaults))
}

func (r *Router) runPlan(ctx context.Context, cmd Command, plan dispatch.Plan) (string, error) {
	res, err := r.exec.Execute(ctx, plan)
	if err != nil {
		r.metrics.CommandsRejected.Inc()
		return "", fmt.Errorf("%s rejected: %w", cmd.Kind, err)
	}
	r.saveSnapshot(ctx, cmd, res)
	return renderPlanResult(cmd.Kind, res), nil
}

func (r *Router) saveSnapshot(ctx context.Context, cmd Command, res dispatch.PlanResult) {
	steps := make([]string, 0, len(res.Steps))
	for _, step := range res.Steps {
		steps = append(steps, stepLine(step))
	}
	snapshot := state.DispatchSnapshot{
		PlanID:     res.PlanID,
		Command:    cmd.Kind.String(),
		Status:     res.Status.String(),
		Steps:      steps,
		FinishedMS: r.now().UnixMilli(),
		IssuerID:   cmd.IssuerID,
		RawCommand: cmd.Raw,
	}
	if err := state.SaveDispatchSnapshot(ctx, r.kv, snapshot); err != nil {
		r.log.Warn("failed to persist dispatch snapshot", zap.Error(err))
	}
}

func (r *Router) renderBasket() string {
	pairs := r.basket.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "basket (%d pairs):\n", len(pairs))
	for _, pair := range pairs {
		fmt.Fprintf(&b, "  %s\n", pair)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) renderStatus(ctx context.Context) string {
	var b strings.Builder
	now := r.now()
	armed, armedBy, expires := r.gate.Status(now)
	switch {
	case !r.gate.Required():
		b.WriteString("arm: not required\n")
	case armed:
		fmt.Fprintf(&b, "arm: armed by %d until %s\n", armedBy, expires.UTC().Format(time.RFC3339))
	default:
		b.WriteString("arm: disarmed\n")
	}
	fmt.Fprintf(&b, "stake: %.2f\n", r.currentStake())
	fmt.Fprintf(&b, "basket: %s\n", strings.Join(r.basket.Snapshot(), " "))

	for _, venue := range []dispatch.Venue{dispatch.VenueLong, dispatch.VenueShort} {
		client, ok := r.venues[venue]
		if !ok {
			continue
		}
		trades, err := client.Status(ctx)
		if err != nil {
			fmt.Fprintf(&b, "%s: unreachable (%v)\n", venue, err)
			continue
		}
		count, err := client.Count(ctx)
		if err != nil {
			fmt.Fprintf(&b, "%s: %d open trades\n", venue, len(trades))
		} else {
			fmt.Fprintf(&b, "%s: %d/%d slots, stake in use %.2f\n", venue, count.Current, count.Max, count.TotalStake)
		}
		for _, trade := range trades {
			side := "long"
			if trade.IsShort {
				side = "short"
			}
			fmt.Fprintf(&b, "  #%d %s %s pnl %.2f (%.2f%%)\n",
				trade.TradeID, trade.Pair, side, trade.ProfitAbs, trade.ProfitPct)
		}
	}

	if snapshot, ok, err := state.LoadDispatchSnapshot(ctx, r.kv); err == nil && ok {
		fmt.Fprintf(&b, "last plan: %s %s at %s\n",
			snapshot.Command, snapshot.Status, time.UnixMilli(snapshot.FinishedMS).UTC().Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) renderBalance(ctx context.Context) string {
	var b strings.Builder
	for _, venue := range []dispatch.Venue{dispatch.VenueLong, dispatch.VenueShort} {
		client, ok := r.venues[venue]
		if !ok {
			continue
		}
		balance, err := client.Balance(ctx)
		if err != nil {
			fmt.Fprintf(&b, "%s: unreachable (%v)\n", venue, err)
			continue
		}
		fmt.Fprintf(&b, "%s: %.2f %s (value %.2f)\n", venue, balance.Total, balance.Stake, balance.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderPlanResult(kind Kind, res dispatch.PlanResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", kind, res.Status)
	for _, step := range res.Steps {
		fmt.Fprintf(&b, "  %s\n", stepLine(step))
	}
	return strings.TrimRight(b.String(), "\n")
}

func stepLine(step dispatch.StepResult) string {
	target := step.Action.Pair
	if target == "" {
		target = "*"
	}
	line := fmt.Sprintf("%s %s %s: %s", step.Venue, step.Action.Kind, target, step.Status)
	if step.Err != nil {
		line += " (" + step.Err.Error() + ")"
	}
	return line
}

func helpText() string {
	return strings.TrimSpace(`
commands:
/status - venues, open trades, arm state
/balance - account balance per venue
/basket - show the watched pairs
/bs PAIR [PAIR ...] - replace the basket (alias /basket_set)
/stake AMOUNT - set the per-entry stake
/arm - authorize one destructive command for a window
/disarm - drop the authorization
/go_long - flatten short venue, enter basket long
/go_short - flatten long venue, enter basket short
/flat - exit everything on both venues
`)
}
