package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrInstanceBusy is returned when a plan needs a venue that another
// plan is already leasing. Commands are rejected, never queued.
var ErrInstanceBusy = errors.New("instance busy")

// ErrSuperseded is the cancellation cause handed to a lease holder
// that a preempting plan displaced.
var ErrSuperseded = errors.New("superseded by a newer plan")

type leaseHolder struct {
	planID string
	cancel context.CancelCauseFunc
}

// Leases is the per-venue single-slot admission gate. A lease covers a
// whole plan plus its reconciliations and is released on completion,
// timeout or failure.
type Leases struct {
	mu   sync.Mutex
	held map[Venue]leaseHolder
}

func NewLeases() *Leases {
	return &Leases{held: make(map[Venue]leaseHolder)}
}

// Acquire takes the lease for every venue at once, or none of them.
// With preempt set, current holders are cancelled (cause ErrSuperseded)
// and the slots are taken over immediately; their Release becomes a
// no-op because ownership has moved on.
func (l *Leases) Acquire(planID string, cancel context.CancelCauseFunc, venues []Venue, preempt bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !preempt {
		for _, venue := range venues {
			if _, busy := l.held[venue]; busy {
				return ErrInstanceBusy
			}
		}
	}
	for _, venue := range venues {
		if holder, busy := l.held[venue]; busy {
			holder.cancel(ErrSuperseded)
		}
		l.held[venue] = leaseHolder{planID: planID, cancel: cancel}
	}
	return nil
}

// Release frees the venues still owned by planID.
func (l *Leases) Release(planID string, venues []Venue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, venue := range venues {
		if holder, ok := l.held[venue]; ok && holder.planID == planID {
			delete(l.held, venue)
		}
	}
}

// Held reports whether the venue is currently leased.
func (l *Leases) Held(venue Venue) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[venue]
	return ok
}
