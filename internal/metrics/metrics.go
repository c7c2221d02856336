package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	CommandsHandled   Counter
	CommandsRejected  Counter
	StepsExecuted     Counter
	StepsFailed       Counter
	ReconcileTimeouts Counter
	VenueUnreachable  Counter
	AutoToggles       Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CommandsHandled:   n,
		CommandsRejected:  n,
		StepsExecuted:     n,
		StepsFailed:       n,
		ReconcileTimeouts: n,
		VenueUnreachable:  n,
		AutoToggles:       n,
	}
}
