package bignum

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"0", "1", "999999999999999999999999999", "-30000000"}
	for _, c := range cases {
		n, err := Parse(c)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c, err)
		}
		if got := String(n); got != c {
			t.Fatalf("String(Parse(%q)) = %q, want %q", c, got, c)
		}
	}
}

func TestParseEmptyIsZero(t *testing.T) {
	n, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}
	if !IsZero(n) {
		t.Fatalf("Parse(\"\") = %s, want zero", String(n))
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse("not-a-number"); err == nil {
		t.Fatal("expected error for malformed input")
	}
}

func TestSubNilTreatedAsZero(t *testing.T) {
	n := MustParse("5")
	if got := String(Sub(n, nil)); got != "5" {
		t.Fatalf("Sub(5, nil) = %s, want 5", got)
	}
	if got := String(Sub(nil, n)); got != "-5" {
		t.Fatalf("Sub(nil, 5) = %s, want -5", got)
	}
}

func TestEqualTreatsNilAsZero(t *testing.T) {
	if !Equal(nil, Zero()) {
		t.Fatal("Equal(nil, 0) should be true")
	}
}
