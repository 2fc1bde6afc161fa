package skillprompts

import "testing"

func TestGetKnownSkill(t *testing.T) {
	for _, name := range []string{"rust-contract", "implement", "functional-rust-generator", "qa-enforcer", "red-queen"} {
		p, ok := Get(name)
		if !ok {
			t.Fatalf("expected skill %q to be recognized", name)
		}
		if p == "" {
			t.Fatalf("expected non-empty prompt for %q", name)
		}
	}
}

func TestGetUnknownSkill(t *testing.T) {
	if _, ok := Get("does-not-exist"); ok {
		t.Fatal("expected unknown skill to report false")
	}
}
