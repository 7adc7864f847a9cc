package auth

import "testing"

func TestParseEffect(t *testing.T) {
	tests := []struct {
		raw  string
		want Effect
	}{
		{"Allow", EffectAllow},
		{"allow", EffectAllow},
		{"  ALLOW  ", EffectAllow},
		{"Deny", EffectDeny},
		{"deny", EffectDeny},
		{"", EffectDeny},
		{"permit", EffectDeny},
		{"garbage", EffectDeny},
	}
	for _, tc := range tests {
		if got := ParseEffect(tc.raw); got != tc.want {
			t.Errorf("ParseEffect(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"identra:users:manage", "identra:users:manage", true},
		{"identra:users:manage", "identra:users:read", false},
		{"identra:users:*", "identra:users:manage", true},
		{"identra:users:*", "identra:users:", true},
		{"identra:users:*", "identra:roles:manage", false},
		{"identra:*:read", "identra:events:read", true},
		{"identra:*:read", "identra:events:write", false},
		{"*:manage", "identra:users:manage", true},
		{"doc/*/draft", "doc/42/draft", true},
		{"doc/*/draft", "doc/42/final", false},
	}
	for _, tc := range tests {
		if got := matchPattern(tc.pattern, tc.value); got != tc.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tc.pattern, tc.value, got, tc.want)
		}
	}
}

func TestIsAllowed(t *testing.T) {
	allowUsers := Statement{Effect: EffectAllow, Actions: []string{"identra:users:*"}, Resources: []string{"*"}}
	denyManage := Statement{Effect: EffectDeny, Actions: []string{"identra:users:manage"}, Resources: []string{"*"}}
	allowAll := Statement{Effect: EffectAllow, Actions: []string{"*"}, Resources: []string{"*"}}

	tests := []struct {
		name       string
		statements []Statement
		action     string
		resource   string
		want       bool
	}{
		{"no statements is implicit deny", nil, "identra:users:read", "*", false},
		{"no matching statement is implicit deny", []Statement{allowUsers}, "identra:roles:manage", "*", false},
		{"matching allow grants", []Statement{allowUsers}, "identra:users:read", "*", true},
		{"deny overrides allow", []Statement{allowUsers, denyManage}, "identra:users:manage", "*", false},
		{"deny overrides regardless of order", []Statement{denyManage, allowUsers}, "identra:users:manage", "*", false},
		{"deny overrides a broad allow", []Statement{allowAll, denyManage}, "identra:users:manage", "*", false},
		{"deny leaves siblings allowed", []Statement{allowUsers, denyManage}, "identra:users:read", "*", true},
		{"resource mismatch does not match", []Statement{{Effect: EffectAllow, Actions: []string{"*"}, Resources: []string{"tenant:a"}}}, "identra:users:read", "tenant:b", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAllowed(tc.statements, tc.action, tc.resource); got != tc.want {
				t.Fatalf("IsAllowed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStatementsFlattensPolicies(t *testing.T) {
	policies := []Policy{
		{Name: "a", Statements: []Statement{{Effect: EffectAllow, Actions: []string{"x"}, Resources: []string{"*"}}}},
		{Name: "b", Statements: []Statement{
			{Effect: EffectDeny, Actions: []string{"y"}, Resources: []string{"*"}},
			{Effect: EffectAllow, Actions: []string{"z"}, Resources: []string{"*"}},
		}},
	}
	got := Statements(policies)
	if len(got) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(got))
	}
	if !IsAllowed(got, "x", "anything") {
		t.Fatal("flattened statements lost the allow from the first policy")
	}
	if IsAllowed(got, "y", "anything") {
		t.Fatal("flattened statements lost the deny from the second policy")
	}
}
