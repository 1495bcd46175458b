package model

import (
	"sync"
	"time"
)

// EndpointHealth is the circuit state of one model endpoint.
type EndpointHealth struct {
	Name            string    `json:"name"`
	Available       bool      `json:"available"`
	LastSuccess     time.Time `json:"last_success,omitempty"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	FailureCount    int       `json:"failure_count"`
	CircuitOpen     bool      `json:"circuit_open"`
	CircuitOpenedAt time.Time `json:"circuit_opened_at,omitempty"`
}

// HealthConfig configures the circuit breaker.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long an open circuit rejects calls before
	// letting a probe through.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

// DefaultHealthConfig returns sensible defaults for health tracking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

type healthState struct {
	mu       sync.Mutex
	config   HealthConfig
	statuses map[string]*EndpointHealth
	now      func() time.Time
}

func newHealthState(cfg HealthConfig) *healthState {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultHealthConfig().FailureThreshold
	}
	return &healthState{
		config:   cfg,
		statuses: make(map[string]*EndpointHealth),
		now:      time.Now,
	}
}

// entry returns the status for name, creating it. Caller holds h.mu.
func (h *healthState) entry(name string) *EndpointHealth {
	status, ok := h.statuses[name]
	if !ok {
		status = &EndpointHealth{Name: name, Available: true}
		h.statuses[name] = status
	}
	return status
}

func (h *healthState) success(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := h.entry(name)
	status.LastSuccess = h.now()
	status.FailureCount = 0
	status.Available = true
	status.CircuitOpen = false
	status.CircuitOpenedAt = time.Time{}
}

func (h *healthState) failure(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := h.entry(name)
	status.LastFailure = h.now()
	status.FailureCount++
	if status.FailureCount >= h.config.FailureThreshold && !status.CircuitOpen {
		status.CircuitOpen = true
		status.CircuitOpenedAt = status.LastFailure
		status.Available = false
	}
}

func (h *healthState) available(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	status, ok := h.statuses[name]
	if !ok || !status.CircuitOpen {
		return true
	}
	// Half-open: let a probe through once the timeout has passed.
	return h.now().Sub(status.CircuitOpenedAt) > h.config.RecoveryTimeout
}

// healthTracker returns the tracker, creating it on first use.
func (r *Registry) healthTracker() *healthState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.health == nil {
		r.health = newHealthState(DefaultHealthConfig())
	}
	return r.health
}

// MarkEndpointSuccess records a successful call and closes the circuit.
func (r *Registry) MarkEndpointSuccess(name string) {
	r.healthTracker().success(name)
}

// MarkEndpointFailure records a failed call. Enough consecutive failures
// open the circuit.
func (r *Registry) MarkEndpointFailure(name string) {
	r.healthTracker().failure(name)
}

// IsEndpointAvailable reports whether calls may be sent to the endpoint.
// Endpoints with no recorded history are available.
func (r *Registry) IsEndpointAvailable(name string) bool {
	return r.healthTracker().available(name)
}

// GetEndpointHealth returns a copy of the endpoint's status, or nil when
// nothing has been recorded for it.
func (r *Registry) GetEndpointHealth(name string) *EndpointHealth {
	h := r.healthTracker()
	h.mu.Lock()
	defer h.mu.Unlock()

	status, ok := h.statuses[name]
	if !ok {
		return nil
	}
	cp := *status
	return &cp
}

// HealthSnapshot returns the status of every configured endpoint in name
// order. Endpoints without history are reported as available.
func (r *Registry) HealthSnapshot() []EndpointHealth {
	names := r.ListEndpoints()
	h := r.healthTracker()

	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]EndpointHealth, 0, len(names))
	for _, name := range names {
		if status, ok := h.statuses[name]; ok {
			out = append(out, *status)
			continue
		}
		out = append(out, EndpointHealth{Name: name, Available: true})
	}
	return out
}

// GetAvailableFallbackChain returns the capability's chain without endpoints
// whose circuit is open. When every endpoint is down the full chain is
// returned so the caller still tries something.
func (r *Registry) GetAvailableFallbackChain(cap Capability) []string {
	chain := r.GetFallbackChain(cap)
	h := r.healthTracker()

	available := make([]string, 0, len(chain))
	for _, name := range chain {
		if h.available(name) {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return chain
	}
	return available
}

// SetHealthConfig replaces the circuit breaker settings.
func (r *Registry) SetHealthConfig(cfg HealthConfig) {
	h := r.healthTracker()
	h.mu.Lock()
	defer h.mu.Unlock()

	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultHealthConfig().FailureThreshold
	}
	h.config = cfg
}

// ResetEndpointHealth forgets all recorded history for an endpoint.
func (r *Registry) ResetEndpointHealth(name string) {
	h := r.healthTracker()
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.statuses, name)
}
