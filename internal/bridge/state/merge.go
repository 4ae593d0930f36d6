package state

import "fmt"

// Domain names of the state document.
const (
	DomainStates     = "states"
	DomainEvents     = "events"
	DomainMetrics    = "metrics"
	DomainMessages   = "messages"
	DomainVehicles   = "vehicles"
	DomainRCC        = "rcc"
	DomainPCT        = "pct"
	DomainETS        = "ets"
	DomainETL        = "etl"
	DomainUpdateTime = "updateTime"
)

// MergeConfig controls how streaming partials are merged into a domain.
type MergeConfig struct {
	// DeepKeys lists, per domain, the members whose own members are merged one
	// by one instead of replacing the member as a whole.
	DeepKeys map[string][]string
}

// DefaultMergeConfig returns the deep-merge members the telemetry stream sends
// incrementally.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{
		DeepKeys: map[string][]string{
			DomainMetrics: {"customMetrics", "configurations"},
			DomainEvents:  {"customEvents"},
		},
	}
}

func (c MergeConfig) deep(domain, key string) bool {
	for _, k := range c.DeepKeys[domain] {
		if k == key {
			return true
		}
	}
	return false
}

// mergeDomain merges partial into current and returns the new domain value
// together with the keys it touched. current is modified in place when it is
// an object. A null partial leaves the domain untouched.
func mergeDomain(cfg MergeConfig, domain string, current, partial *Node) (*Node, []string) {
	switch {
	case partial.IsNull():
		return current, nil
	case !partial.IsObject():
		return partial.Clone(), []string{domain}
	}

	result := current
	if !result.IsObject() {
		result = Object()
	}

	var touched []string
	for _, key := range partial.Keys() {
		value := partial.Get(key)
		if cfg.deep(domain, key) && value.IsObject() {
			sub := result.Get(key)
			if !sub.IsObject() {
				sub = Object()
				result.Set(key, sub)
			}
			for _, subKey := range value.Keys() {
				sub.Set(subKey, value.Get(subKey).Clone())
				touched = append(touched, fmt.Sprintf("%s[%s]", key, subKey))
			}
			continue
		}
		result.Set(key, value.Clone())
		touched = append(touched, key)
	}
	return result, touched
}

// FlattenCommands moves the members of states.commands to the root of states
// and drops the commands member. It returns states for chaining.
func FlattenCommands(states *Node) *Node {
	commands := states.Get("commands")
	if !commands.IsObject() {
		return states
	}
	for _, name := range commands.Keys() {
		states.Set(name, commands.Get(name))
	}
	states.Delete("commands")
	return states
}
