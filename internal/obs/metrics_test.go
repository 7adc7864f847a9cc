package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/metrics":                     "/metrics",
		"/v1/users/01HZX3":             "/v1/users/:id",
		"/v1/users/01HZX3/roles":       "/v1/users/:id/roles",
		"/v1/sessions/01HZX3":          "/v1/sessions/:id",
		"/v1/policies/01HZX3/check":    "/v1/policies/:id/check",
		"/v1/oauth/token":              "/v1/oauth/token",
		"/v1/oauth/token?grant=code":   "/v1/oauth/token",
		"/v1/auth/login":               "/v1/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
