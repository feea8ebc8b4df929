package circuitbreaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_circuit_breaker_requests_total",
			Help: "Calls seen by a circuit breaker by outcome (success, failure, rejected)",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_circuit_breaker_open_since_seconds",
			Help: "Unix time the breaker last opened (0 if not open)",
		},
		[]string{"name", "service"},
	)
)

func recordOutcome(cb *CircuitBreaker, state State, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	breakerRequests.WithLabelValues(cb.name, cb.service, state.String(), result).Inc()
}

func recordRejected(cb *CircuitBreaker, state State) {
	breakerRequests.WithLabelValues(cb.name, cb.service, state.String(), "rejected").Inc()
}

func recordTransition(cb *CircuitBreaker, from, to State) {
	breakerTransitions.WithLabelValues(cb.name, cb.service, from.String(), to.String()).Inc()
	breakerState.WithLabelValues(cb.name, cb.service).Set(float64(to))
	switch {
	case to == StateOpen:
		breakerOpenSince.WithLabelValues(cb.name, cb.service).Set(float64(cb.since.Unix()))
	case from == StateOpen:
		breakerOpenSince.WithLabelValues(cb.name, cb.service).Set(0)
	}
}

// Registry tracks live breakers by service and name. A breaker created under
// an existing key replaces the previous one.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// DefaultRegistry holds every breaker created with New.
var DefaultRegistry = &Registry{breakers: make(map[string]*CircuitBreaker)}

func (r *Registry) register(cb *CircuitBreaker) {
	r.mu.Lock()
	r.breakers[cb.service+"/"+cb.name] = cb
	r.mu.Unlock()
	breakerState.WithLabelValues(cb.name, cb.service).Set(float64(StateClosed))
}

// Statuses returns a snapshot of every registered breaker sorted by service and
// name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Refresh re-evaluates every breaker so gauges reflect elapsed open timeouts
// even when no traffic arrives.
func (r *Registry) Refresh() {
	for _, st := range r.Statuses() {
		breakerState.WithLabelValues(st.Name, st.Service).Set(float64(st.State))
	}
}

// StartMetricsCollection refreshes breaker gauges every 10s until ctx is done
func StartMetricsCollection(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				DefaultRegistry.Refresh()
			}
		}
	}()
}
