package dispatch

import (
	"time"

	"github.com/WangyangYe0512/Control-Simple/internal/reconcile"

	"github.com/google/uuid"
)

type Venue string

const (
	VenueLong  Venue = "long"
	VenueShort Venue = "short"
)

func Opposite(v Venue) Venue {
	if v == VenueLong {
		return VenueShort
	}
	return VenueLong
}

type ActionKind int

const (
	ActionEnter ActionKind = iota
	ActionExitPair
	ActionExitAll
	ActionStart
	ActionStop
)

func (k ActionKind) String() string {
	switch k {
	case ActionEnter:
		return "enter"
	case ActionExitPair:
		return "exit_pair"
	case ActionExitAll:
		return "exit_all"
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}

type Action struct {
	Kind  ActionKind
	Pair  string
	Side  string
	Stake float64
}

// Step is one REST call against one venue, optionally followed by a
// reconciliation wait. Requires points at an earlier step that must
// reach Completed before this step may run (-1 for none); it encodes
// the flatten-before-enter ordering.
type Step struct {
	Venue    Venue
	Action   Action
	Await    *reconcile.Predicate
	Requires int
}

// Plan is an ordered sequence of steps built fresh per command and
// never persisted. Concurrent plans have no cross-step ordering and
// may run their steps in parallel (Flat). Preempting plans cancel the
// current lease holders instead of failing with InstanceBusy.
type Plan struct {
	ID           string
	Command      string
	Steps        []Step
	Delay        time.Duration
	PollTimeout  time.Duration
	PollInterval time.Duration
	Concurrent   bool
	Preempting   bool
}

// Defaults carries the pacing and reconciliation knobs shared by all
// plan builders.
type Defaults struct {
	Delay        time.Duration
	PollTimeout  time.Duration
	PollInterval time.Duration
}

// Venues returns the distinct venues the plan touches, in first-use order.
func (p Plan) Venues() []Venue {
	seen := make(map[Venue]struct{}, 2)
	var out []Venue
	for _, step := range p.Steps {
		if _, ok := seen[step.Venue]; ok {
			continue
		}
		seen[step.Venue] = struct{}{}
		out = append(out, step.Venue)
	}
	return out
}

// NewEntryPlan builds the flatten-before-enter sequence for GoLong or
// GoShort: for each pair, first flatten the opposite venue and wait
// until it reports no open position, then enter on the target venue.
// Entering before the opposite side is confirmed flat is impossible by
// construction.
func NewEntryPlan(target Venue, pairs []string, stake float64, d Defaults) Plan {
	plan := Plan{
		ID:           uuid.NewString(),
		Command:      "go_" + string(target),
		Delay:        d.Delay,
		PollTimeout:  d.PollTimeout,
		PollInterval: d.PollInterval,
	}
	opposite := Opposite(target)
	side := string(target)
	for _, pair := range pairs {
		flat := reconcile.NoOpenPosition(pair)
		plan.Steps = append(plan.Steps, Step{
			Venue:    opposite,
			Action:   Action{Kind: ActionExitPair, Pair: pair},
			Await:    &flat,
			Requires: -1,
		})
		flattenIdx := len(plan.Steps) - 1
		entered := reconcile.OpenPosition(pair, side)
		plan.Steps = append(plan.Steps, Step{
			Venue:    target,
			Action:   Action{Kind: ActionEnter, Pair: pair, Side: side, Stake: stake},
			Await:    &entered,
			Requires: flattenIdx,
		})
	}
	return plan
}

// NewFlattenPlan exits everything on both venues. The two steps share
// no pair to race on, so they run concurrently, and the plan preempts
// any in-flight reconciliation: flattening must always be possible.
func NewFlattenPlan(d Defaults) Plan {
	flatLong := reconcile.NoOpenTrades()
	flatShort := reconcile.NoOpenTrades()
	return Plan{
		ID:           uuid.NewString(),
		Command:      "flat",
		Delay:        d.Delay,
		PollTimeout:  d.PollTimeout,
		PollInterval: d.PollInterval,
		Concurrent:   true,
		Preempting:   true,
		Steps: []Step{
			{Venue: VenueLong, Action: Action{Kind: ActionExitAll}, Await: &flatLong, Requires: -1},
			{Venue: VenueShort, Action: Action{Kind: ActionExitAll}, Await: &flatShort, Requires: -1},
		},
	}
}

// NewTogglePlan stops one venue's engine and starts the other's. Used
// by the auto-toggle loop; no reconciliation is needed because
// start/stop are acknowledged synchronously.
func NewTogglePlan(start Venue, d Defaults) Plan {
	return Plan{
		ID:           uuid.NewString(),
		Command:      "toggle_" + string(start),
		Delay:        d.Delay,
		PollTimeout:  d.PollTimeout,
		PollInterval: d.PollInterval,
		Steps: []Step{
			{Venue: Opposite(start), Action: Action{Kind: ActionStop}, Requires: -1},
			{Venue: start, Action: Action{Kind: ActionStart}, Requires: -1},
		},
	}
}
