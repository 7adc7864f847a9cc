package auth

import "strings"

// Effect of a policy statement.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// ParseEffect maps free-form input to an Effect. Unrecognized values parse
// to Deny so a typo in a policy document can only ever restrict access.
func ParseEffect(raw string) Effect {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "allow":
		return EffectAllow
	default:
		return EffectDeny
	}
}

// Statement grants or denies a set of action patterns on a set of resource
// patterns. Patterns support '*' wildcards; everything else matches exactly.
type Statement struct {
	SID       string   `json:"sid,omitempty"`
	Effect    Effect   `json:"effect"`
	Actions   []string `json:"actions"`
	Resources []string `json:"resources"`
}

// Matches reports whether the statement applies to the action/resource pair.
func (s Statement) Matches(action, resource string) bool {
	return matchAny(s.Actions, action) && matchAny(s.Resources, resource)
}

// IsAllowed evaluates statements with deny-overrides semantics: any matching
// Deny forces false regardless of order; otherwise true iff at least one
// matching Allow exists; no match means implicit deny.
func IsAllowed(statements []Statement, action, resource string) bool {
	allowed := false
	for _, st := range statements {
		if !st.Matches(action, resource) {
			continue
		}
		if st.Effect == EffectDeny {
			return false
		}
		if st.Effect == EffectAllow {
			allowed = true
		}
	}
	return allowed
}

// Statements flattens the statements of a set of policies for evaluation.
func Statements(policies []Policy) []Statement {
	var out []Statement
	for _, p := range policies {
		out = append(out, p.Statements...)
	}
	return out
}

func matchAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if matchPattern(p, value) {
			return true
		}
	}
	return false
}

// matchPattern implements glob matching where '*' matches any run of
// characters, including the empty one.
func matchPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(value, parts[i])
		if idx < 0 {
			return false
		}
		value = value[idx+len(parts[i]):]
	}
	return strings.HasSuffix(value, parts[len(parts)-1])
}
