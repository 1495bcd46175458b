package model

// RegistryConfig is the serialized form of a Registry. It appears under
// "models" in the bloom config file.
type RegistryConfig struct {
	Capabilities map[string]*CapabilityConfig `json:"capabilities" yaml:"capabilities"`
	Endpoints    map[string]*EndpointConfig   `json:"endpoints" yaml:"endpoints"`
	Defaults     *DefaultsConfig              `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Health       *HealthConfig                `json:"health,omitempty" yaml:"health,omitempty"`
}

// FromConfig builds a registry from its serialized form. Capability keys
// that are not built in are kept as-is.
func FromConfig(cfg *RegistryConfig) *Registry {
	if cfg == nil {
		return NewRegistry(nil, nil)
	}

	caps := make(map[Capability]*CapabilityConfig, len(cfg.Capabilities))
	for k, v := range cfg.Capabilities {
		caps[capabilityKey(k)] = v
	}
	endpoints := make(map[string]*EndpointConfig, len(cfg.Endpoints))
	for k, v := range cfg.Endpoints {
		endpoints[k] = v
	}

	r := NewRegistry(caps, endpoints)
	if cfg.Defaults != nil && cfg.Defaults.Model != "" {
		r.defaults = &DefaultsConfig{Model: cfg.Defaults.Model}
	}
	if cfg.Health != nil {
		r.health = newHealthState(*cfg.Health)
	}
	return r
}

// ToConfig converts a Registry to a RegistryConfig for serialization.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make(map[string]*CapabilityConfig, len(r.capabilities))
	for k, v := range r.capabilities {
		caps[string(k)] = v
	}
	endpoints := make(map[string]*EndpointConfig, len(r.endpoints))
	for k, v := range r.endpoints {
		endpoints[k] = v
	}

	return &RegistryConfig{
		Capabilities: caps,
		Endpoints:    endpoints,
		Defaults:     r.defaults,
	}
}

// MergeFromConfig overlays cfg onto the registry. Entries named in cfg
// replace existing ones; everything else is kept.
func (r *Registry) MergeFromConfig(cfg *RegistryConfig) {
	if cfg == nil {
		return
	}

	r.mu.Lock()
	if r.capabilities == nil {
		r.capabilities = make(map[Capability]*CapabilityConfig)
	}
	if r.endpoints == nil {
		r.endpoints = make(map[string]*EndpointConfig)
	}
	for k, v := range cfg.Capabilities {
		r.capabilities[capabilityKey(k)] = v
	}
	for k, v := range cfg.Endpoints {
		r.endpoints[k] = v
	}
	if cfg.Defaults != nil && cfg.Defaults.Model != "" {
		r.defaults = &DefaultsConfig{Model: cfg.Defaults.Model}
	}
	r.mu.Unlock()

	if cfg.Health != nil {
		r.SetHealthConfig(*cfg.Health)
	}
}

func capabilityKey(k string) Capability {
	if c := ParseCapability(k); c != "" {
		return c
	}
	return Capability(k)
}
