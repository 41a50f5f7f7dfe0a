package canon

import (
	"strings"
	"testing"
)

func TestCanonicalize_NullFaithfulness(t *testing.T) {
	b := Canonicalize(Content{
		Name:     "pricefeed.eth",
		Method:   "pricefeed",
		Params:   `{"pair":"ETH/USD"}`,
		Result:   `{"price":3120.23}`,
		Meta:     `{}`,
		CacheTTL: 30,
	})
	got := string(b)
	if !strings.Contains(got, `,"cursor":null,`) {
		t.Errorf("expected literal null cursor, got %s", got)
	}
	if !strings.Contains(got, `,"prev_digest":null,`) {
		t.Errorf("expected literal null prev_digest, got %s", got)
	}
}

func TestCanonicalize_FieldOrderAndGrammar(t *testing.T) {
	cursor := "abc"
	digest := [32]byte{0x01, 0x02}
	b := Canonicalize(Content{
		Name:       "pricefeed.eth",
		Method:     "pricefeed",
		Params:     `{"pair":"ETH/USD"}`,
		Result:     `{"price":3120.23}`,
		Meta:       `{"provider":"gw"}`,
		CacheTTL:   30,
		Cursor:     &cursor,
		PrevDigest: &digest,
	})
	want := `{"cache_ttl":30,"cursor":"abc","meta":{"provider":"gw"},"method":"pricefeed","name":"pricefeed.eth","params":{"pair":"ETH/USD"},"prev_digest":"0x0102000000000000000000000000000000000000000000000000000000000000","result":{"price":3120.23}}`
	if string(b) != want {
		t.Fatalf("canonical form mismatch\n got: %s\nwant: %s", b, want)
	}
}

func TestCanonicalize_NoWhitespace(t *testing.T) {
	b := Canonicalize(Content{Name: "a.eth", Method: "m", Params: "{}", Result: "{}", Meta: "{}"})
	for _, c := range string(b) {
		if c == ' ' || c == '\n' || c == '\t' {
			t.Fatalf("canonical form must not contain whitespace: %q", b)
		}
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	c := Content{Name: "a.eth", Method: "m", Params: "{}", Result: "{}", Meta: "{}", CacheTTL: 30}
	a := Canonicalize(c)
	b := Canonicalize(c)
	if string(a) != string(b) {
		t.Fatal("canonicalize is not deterministic for identical content")
	}
}

func TestCanonicalize_CacheTTLZero(t *testing.T) {
	b := Canonicalize(Content{CacheTTL: 0})
	if !strings.Contains(string(b), `"cache_ttl":0,`) {
		t.Fatalf("expected cache_ttl 0 with no leading zeros, got %s", b)
	}
}

func TestCanonicalize_EmptyButPresentCursor(t *testing.T) {
	empty := ""
	b := Canonicalize(Content{Cursor: &empty})
	if !strings.Contains(string(b), `"cursor":"",`) {
		t.Fatalf("expected present-but-empty cursor to serialize as empty string, not null: %s", b)
	}
}
