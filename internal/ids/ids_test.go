package ids

import "testing"

func TestNewProducesUniqueSortedIDs(t *testing.T) {
	seen := make(map[string]struct{})
	prev := ""
	for i := 0; i < 1000; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("unexpected id length: %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id: %q", id)
		}
		seen[id] = struct{}{}
		if prev != "" && id <= prev {
			t.Fatalf("ids not monotonic: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid(New()) {
		t.Fatalf("generated id must be valid")
	}
	for _, raw := range []string{"", "not-an-id", "0000"} {
		if IsValid(raw) {
			t.Fatalf("expected %q to be invalid", raw)
		}
	}
}
