package querycache

import "time"

// Policy decides how long values stay fresh and when idle entries are dropped.
type Policy struct {
	// Default applies to resources without an entry in Stale. Zero means a
	// value is stale as soon as it is stored.
	Default time.Duration
	Stale   map[string]time.Duration
	// GCTime is how long an entry without subscribers survives after its last read.
	GCTime time.Duration
	// FetchTimeout bounds each fetch. Zero means no timeout.
	FetchTimeout time.Duration
}

// StaleTime returns the freshness window of resource.
func (p Policy) StaleTime(resource string) time.Duration {
	if d, ok := p.Stale[resource]; ok {
		return d
	}
	return p.Default
}

// WithOverrides returns a copy of p with stale windows replaced by overrides.
func (p Policy) WithOverrides(overrides map[string]time.Duration) Policy {
	stale := make(map[string]time.Duration, len(p.Stale)+len(overrides))
	for k, v := range p.Stale {
		stale[k] = v
	}
	for k, v := range overrides {
		stale[k] = v
	}
	p.Stale = stale
	return p
}
