package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "control_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry          *prometheus.Registry
	commandsHandled   prometheus.Counter
	commandsRejected  prometheus.Counter
	stepsExecuted     prometheus.Counter
	stepsFailed       prometheus.Counter
	reconcileTimeouts prometheus.Counter
	venueUnreachable  prometheus.Counter
	autoToggles       prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	commandsHandled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "commands_handled_total",
		Help:      "Total number of chat commands handled.",
	})
	commandsRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "commands_rejected_total",
		Help:      "Total number of chat commands rejected before dispatch.",
	})
	stepsExecuted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "dispatch_steps_total",
		Help:      "Total number of dispatch steps executed.",
	})
	stepsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "dispatch_steps_failed_total",
		Help:      "Total number of dispatch steps that failed or were skipped.",
	})
	reconcileTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "reconcile_timeouts_total",
		Help:      "Total number of reconciliations that hit the hard timeout.",
	})
	venueUnreachable := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "venue_unreachable_total",
		Help:      "Total number of venue calls that failed at the transport layer.",
	})
	autoToggles := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "auto_toggles_total",
		Help:      "Total number of automatic direction switches.",
	})

	registry.MustRegister(commandsHandled, commandsRejected, stepsExecuted, stepsFailed, reconcileTimeouts, venueUnreachable, autoToggles)

	m := &Metrics{
		CommandsHandled:   promCounter{commandsHandled},
		CommandsRejected:  promCounter{commandsRejected},
		StepsExecuted:     promCounter{stepsExecuted},
		StepsFailed:       promCounter{stepsFailed},
		ReconcileTimeouts: promCounter{reconcileTimeouts},
		VenueUnreachable:  promCounter{venueUnreachable},
		AutoToggles:       promCounter{autoToggles},
	}

	return &Prometheus{
		Metrics:           m,
		registry:          registry,
		commandsHandled:   commandsHandled,
		commandsRejected:  commandsRejected,
		stepsExecuted:     stepsExecuted,
		stepsFailed:       stepsFailed,
		reconcileTimeouts: reconcileTimeouts,
		venueUnreachable:  venueUnreachable,
		autoToggles:       autoToggles,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
