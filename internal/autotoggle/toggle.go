package autotoggle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/WangyangYe0512/Control-Simple/internal/config"
	"github.com/WangyangYe0512/Control-Simple/internal/dispatch"
	"github.com/WangyangYe0512/Control-Simple/internal/ft"
	"github.com/WangyangYe0512/Control-Simple/internal/metrics"
	"github.com/WangyangYe0512/Control-Simple/internal/state"

	"go.uber.org/zap"
)

const (
	keyBaseline  = "auto:baseline"
	keyPeak      = "auto:peak"
	keyDirection = "auto:direction"
)

// StatusSource reads the open trades of the watched venue.
type StatusSource interface {
	Status(ctx context.Context) ([]ft.Trade, error)
}

// Executor runs a toggle plan. Satisfied by dispatch.Dispatcher, so
// flips contend for the same venue leases as chat commands.
type Executor interface {
	Execute(ctx context.Context, plan dispatch.Plan) (dispatch.PlanResult, error)
}

// Notifier pushes a toggle announcement to chat.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Toggle watches one venue's aggregate open-trade PnL and flips the
// running direction when it trends hard enough: beyond threshold from
// the baseline to pick an initial direction, then a trail-sized
// pullback from the peak to reverse. Baseline, peak and direction
// survive restarts in the kv store.
type Toggle struct {
	cfg      config.AutoToggleConfig
	source   StatusSource
	exec     Executor
	defaults dispatch.Defaults
	kv       state.Store
	notify   Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func New(cfg config.AutoToggleConfig, source StatusSource, exec Executor, defaults dispatch.Defaults,
	kv state.Store, notify Notifier, m *metrics.Metrics, log *zap.Logger) *Toggle {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Toggle{
		cfg:      cfg,
		source:   source,
		exec:     exec,
		defaults: defaults,
		kv:       kv,
		notify:   notify,
		metrics:  m,
		log:      log,
	}
}

// Run polls until ctx is cancelled. A failed poll skips the tick; the
// loop never gives up.
func (t *Toggle) Run(ctx context.Context) error {
	interval := t.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t.log.Info("auto-toggle started",
		zap.String("venue", t.cfg.Venue),
		zap.Duration("interval", interval),
		zap.Float64("threshold", t.cfg.Threshold),
		zap.Float64("trail", t.cfg.Trail),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.step(ctx); err != nil {
				t.log.Warn("auto-toggle tick failed", zap.Error(err))
			}
		}
	}
}

// step runs one poll-decide-act cycle.
func (t *Toggle) step(ctx context.Context) error {
	trades, err := t.source.Status(ctx)
	if err != nil {
		return err
	}
	pnl := sumProfit(trades)

	baseline, haveBaseline, err := t.loadFloat(ctx, keyBaseline)
	if err != nil {
		return err
	}
	if !haveBaseline {
		t.log.Info("auto-toggle baseline initialized", zap.Float64("pnl", pnl))
		return t.persist(ctx, pnl, pnl, "none")
	}
	peak, _, err := t.loadFloat(ctx, keyPeak)
	if err != nil {
		return err
	}
	direction, err := t.loadDirection(ctx)
	if err != nil {
		return err
	}

	d := decide(baseline, peak, direction, pnl, t.cfg.Threshold, t.cfg.Trail)
	if d.peakMoved {
		if err := t.kv.Set(ctx, keyPeak, formatFloat(d.peak)); err != nil {
			return err
		}
		t.log.Info("auto-toggle peak updated",
			zap.Float64("peak", d.peak),
			zap.String("direction", direction),
		)
	}
	if d.flipTo == "" {
		return nil
	}
	return t.flip(ctx, d.flipTo, baseline, pnl)
}

func (t *Toggle) flip(ctx context.Context, direction string, baseline, pnl float64) error {
	plan := dispatch.NewTogglePlan(dispatch.Venue(direction), t.defaults)
	res, err := t.exec.Execute(ctx, plan)
	if err != nil {
		return fmt.Errorf("toggle to %s: %w", direction, err)
	}
	t.metrics.AutoToggles.Inc()
	t.log.Info("auto-toggle flipped",
		zap.String("direction", direction),
		zap.Float64("baseline", baseline),
		zap.Float64("pnl", pnl),
		zap.String("plan_status", res.Status.String()),
	)
	if t.notify != nil {
		text := fmt.Sprintf("auto-toggle: %s (pnl %.2f, baseline %.2f), plan %s",
			direction, pnl, baseline, res.Status)
		if err := t.notify.Send(ctx, text); err != nil {
			t.log.Warn("auto-toggle notify failed", zap.Error(err))
		}
	}
	return t.persist(ctx, pnl, pnl, direction)
}

func (t *Toggle) persist(ctx context.Context, baseline, peak float64, direction string) error {
	if err := t.kv.Set(ctx, keyBaseline, formatFloat(baseline)); err != nil {
		return err
	}
	if err := t.kv.Set(ctx, keyPeak, formatFloat(peak)); err != nil {
		return err
	}
	return t.kv.Set(ctx, keyDirection, direction)
}

func (t *Toggle) loadFloat(ctx context.Context, key string) (float64, bool, error) {
	raw, ok, err := t.kv.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, nil
	}
	return value, true, nil
}

func (t *Toggle) loadDirection(ctx context.Context) (string, error) {
	raw, ok, err := t.kv.Get(ctx, keyDirection)
	if err != nil {
		return "", err
	}
	if !ok || (raw != "long" && raw != "short") {
		return "none", nil
	}
	return raw, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// sumProfit totals the absolute profit across open trades, estimating
// from stake and percent when a record lacks profit_abs.
func sumProfit(trades []ft.Trade) float64 {
	var total float64
	for _, trade := range trades {
		if trade.ProfitAbs != 0 {
			total += trade.ProfitAbs
			continue
		}
		if trade.ProfitPct != 0 && trade.StakeAmount != 0 {
			total += trade.StakeAmount * trade.ProfitPct / 100
		}
	}
	return total
}

type decision struct {
	flipTo    string
	peak      float64
	peakMoved bool
}

// decide is the pure trigger logic. Without an active direction the
// first move beyond threshold picks one: pnl falling means the short
// book is bleeding, so go long, and vice versa. With a direction, the
// peak tracks the most favorable pnl seen and a trail-sized retreat
// from it flips to the other side.
func decide(baseline, peak float64, direction string, pnl, threshold, trail float64) decision {
	d := decision{peak: peak}
	switch direction {
	case "long":
		if pnl > baseline && pnl > peak {
			d.peak = pnl
			d.peakMoved = true
		}
		if pnl <= d.peak-trail {
			d.flipTo = "short"
		}
	case "short":
		if pnl < baseline && pnl < peak {
			d.peak = pnl
			d.peakMoved = true
		}
		if pnl >= d.peak+trail {
			d.flipTo = "long"
		}
	default:
		delta := pnl - baseline
		if delta <= -threshold {
			d.flipTo = "long"
		} else if delta >= threshold {
			d.flipTo = "short"
		}
	}
	return d
}
