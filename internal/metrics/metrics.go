// Package metrics exposes lifecycle telemetry as Prometheus collectors.
// It wraps a private registry so tests and multiple daemons in one process
// never collide on the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"enginehost/internal/binding"
	"enginehost/internal/controller"
	"enginehost/internal/grant"
	"enginehost/internal/platform"
	"enginehost/internal/registry"
)

const namespace = "enginehost"

// Collector holds the lifecycle collectors.
type Collector struct {
	registry *prometheus.Registry

	grantPromotions      prometheus.Counter
	grantDemotions       prometheus.Counter
	grantDenials         prometheus.Counter
	channelRegistrations prometheus.Counter
	bindingTransitions   *prometheus.CounterVec
	droppedRequests      *prometheus.CounterVec
	workersLive          prometheus.Gauge
	workerRestarts       prometheus.Counter
}

// NewCollector creates and registers the collectors.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.grantPromotions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grant",
		Name:      "promotions_total",
		Help:      "Promotions to protected execution",
	})
	c.grantDemotions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grant",
		Name:      "demotions_total",
		Help:      "Demotions back to background execution",
	})
	c.grantDenials = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grant",
		Name:      "denials_total",
		Help:      "Promotion requests refused by the host",
	})
	c.channelRegistrations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_registrations_total",
		Help:      "Notification channels created",
	})
	c.bindingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "transitions_total",
			Help:      "Binding state transitions",
		},
		[]string{"from", "to"},
	)
	c.droppedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_grant_requests_total",
			Help:      "Grant requests dropped because no worker was reachable",
		},
		[]string{"reason"},
	)
	c.workersLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers_live",
		Help:      "Live worker incarnations",
	})
	c.workerRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_restarts_total",
		Help:      "Workers recreated after reclamation",
	})

	c.registry.MustRegister(
		c.grantPromotions,
		c.grantDemotions,
		c.grantDenials,
		c.channelRegistrations,
		c.bindingTransitions,
		c.droppedRequests,
		c.workersLive,
		c.workerRestarts,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collectors in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GrantObserver counts grant side effects.
func (c *Collector) GrantObserver() grant.Observer {
	return grant.Observer{
		ChannelRegistered: func(grant.Channel) { c.channelRegistrations.Inc() },
		Promoted:          func(grant.Descriptor) { c.grantPromotions.Inc() },
		Demoted:           func() { c.grantDemotions.Inc() },
		Denied:            func(error) { c.grantDenials.Inc() },
	}
}

// PlatformObserver counts host lifecycle events, including the grant
// side effects of every worker incarnation.
func (c *Collector) PlatformObserver() platform.Observer {
	return platform.Observer{
		WorkerCreated:     func(registry.Key) { c.workersLive.Inc() },
		WorkerDestroyed:   func(registry.Key) { c.workersLive.Dec() },
		WorkerRestarted:   func(registry.Key) { c.workerRestarts.Inc() },
		BindingTransition: c.observeTransition,
		Grant:             c.GrantObserver(),
	}
}

// ControllerObserver counts controller-side transitions and dropped requests.
func (c *Collector) ControllerObserver() controller.Observer {
	return controller.Observer{
		BindingChanged: func(change binding.Change) { c.observeTransition(change.From, change.To) },
		RequestDropped: func(reason string) { c.droppedRequests.WithLabelValues(reason).Inc() },
	}
}

// DroppedRequest counts a grant request dropped by a host-side boundary.
func (c *Collector) DroppedRequest(reason string) {
	c.droppedRequests.WithLabelValues(reason).Inc()
}

func (c *Collector) observeTransition(from, to binding.State) {
	c.bindingTransitions.WithLabelValues(from.String(), to.String()).Inc()
}
