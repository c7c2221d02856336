package reconcile

import (
	"fmt"

	"github.com/WangyangYe0512/Control-Simple/internal/ft"
)

// Predicate is a declarative condition over a venue's open trades.
type Predicate struct {
	pair   string
	side   string
	absent bool
	all    bool
}

// NoOpenTrades holds when the venue reports zero open trades.
func NoOpenTrades() Predicate {
	return Predicate{all: true, absent: true}
}

// NoOpenPosition holds when the venue reports no open trade for pair.
func NoOpenPosition(pair string) Predicate {
	return Predicate{pair: pair, absent: true}
}

// OpenPosition holds when the venue reports an open trade for pair
// with the given side ("long" or "short").
func OpenPosition(pair, side string) Predicate {
	return Predicate{pair: pair, side: side}
}

func (p Predicate) Holds(trades []ft.Trade) bool {
	if p.all {
		return len(trades) == 0
	}
	for _, trade := range trades {
		if trade.Pair != p.pair {
			continue
		}
		if p.absent {
			return false
		}
		if p.side == "" || sideOf(trade) == p.side {
			return true
		}
	}
	return p.absent
}

func sideOf(trade ft.Trade) string {
	if trade.IsShort {
		return "short"
	}
	return "long"
}

func (p Predicate) String() string {
	switch {
	case p.all:
		return "no open trades"
	case p.absent:
		return fmt.Sprintf("no open position for %s", p.pair)
	case p.side != "":
		return fmt.Sprintf("open %s position for %s", p.side, p.pair)
	default:
		return fmt.Sprintf("open position for %s", p.pair)
	}
}
