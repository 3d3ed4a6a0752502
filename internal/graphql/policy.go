package graphql

// BypassPolicy decides which operations must always skip the cache, based on
// their top-level field names. The policy is all-or-nothing: one matching
// field disables caching for the entire operation.
type BypassPolicy struct {
	enabled bool
	global  map[string]struct{}
	custom  map[string]map[string]struct{}
}

// NewBypassPolicy builds a policy from the configured field sets. When
// enforcement is disabled the policy never bypasses.
func NewBypassPolicy(enabled bool, global []string, custom map[string][]string) *BypassPolicy {
	p := &BypassPolicy{
		enabled: enabled,
		global:  toSet(global),
		custom:  make(map[string]map[string]struct{}, len(custom)),
	}
	for endpoint, fields := range custom {
		p.custom[endpoint] = toSet(fields)
	}
	return p
}

// Bypassed reports whether the operation must skip the cache on endpoint. The
// effective bypass set is the endpoint's custom fields unioned with the global
// ones.
func (p *BypassPolicy) Bypassed(meta *Metadata, endpoint string) bool {
	if !p.enabled {
		return false
	}

	custom := p.custom[endpoint]
	for _, field := range meta.TopLevelFields {
		if _, ok := p.global[field]; ok {
			return true
		}
		if _, ok := custom[field]; ok {
			return true
		}
	}
	return false
}

func toSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
