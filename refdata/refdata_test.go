package refdata

import "testing"

func TestContainsAndHasCategory(t *testing.T) {
	rd := New(map[string][]string{
		"currencies": {"USD", "CAD", "EUR"},
		"empty":      {},
	})

	if !rd.HasCategory("currencies") {
		t.Error("expected currencies to be a loaded category")
	}
	if rd.HasCategory("empty") {
		t.Error("expected empty category to report HasCategory = false")
	}
	if rd.HasCategory("missing") {
		t.Error("expected unloaded category to report HasCategory = false")
	}

	if !rd.Contains("currencies", "USD") {
		t.Error("expected USD to be a member of currencies")
	}
	if rd.Contains("currencies", "XXX") {
		t.Error("expected XXX to not be a member of currencies")
	}
	if rd.Contains("missing", "anything") {
		t.Error("expected unloaded category to contain nothing")
	}
}

func TestContainsLargeSetNoFalseNegatives(t *testing.T) {
	members := make([]string, 0, 5000)
	for i := 0; i < 5000; i++ {
		members = append(members, string(rune('a'+(i%26)))+string(rune('A'+((i/26)%26))))
	}
	rd := New(map[string][]string{"products": members})

	for _, m := range members {
		if !rd.Contains("products", m) {
			t.Fatalf("bloom fast-reject produced a false negative for %q", m)
		}
	}
}
