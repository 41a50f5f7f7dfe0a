package ensname

import "testing"

func TestNamehash_Empty(t *testing.T) {
	var zero [32]byte
	if got := Namehash(""); got != zero {
		t.Errorf("expected zero node for empty name, got %x", got)
	}
}

func TestNamehash_Deterministic(t *testing.T) {
	a := Namehash("pricefeed.eth")
	b := Namehash("pricefeed.eth")
	if a != b {
		t.Errorf("expected namehash to be deterministic, got %x != %x", a, b)
	}
}

func TestNamehash_DiffersByLabel(t *testing.T) {
	a := Namehash("pricefeed.eth")
	b := Namehash("daovotes.eth")
	if a == b {
		t.Error("expected different names to hash differently")
	}
}

func TestNamehash_DependsOnLabelOrder(t *testing.T) {
	a := Namehash("sub.pricefeed.eth")
	b := Namehash("pricefeed.sub.eth")
	if a == b {
		t.Error("expected label order to matter")
	}
}

func TestLooksLikeNamehashable(t *testing.T) {
	cases := map[string]bool{
		"":                 false,
		"pricefeed.eth":    true,
		"eth":              true,
		"a..b":             false,
		".eth":             false,
		"eth.":             false,
		"sub.pricefeed.eth": true,
	}
	for in, want := range cases {
		if got := LooksLikeNamehashable(in); got != want {
			t.Errorf("LooksLikeNamehashable(%q) = %v, want %v", in, got, want)
		}
	}
}
