package amount

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestParse(t *testing.T) {
	cases := map[string]uint64{
		"0":          0,
		"1":          1_000_000,
		"12.5":       12_500_000,
		"0.000001":   1,
		"40":         40_000_000,
		"100.10":     100_100_000,
		"1.1234560":  1_123_456,
		" 7.25 ":     7_250_000,
		"1e2":        100_000_000,
		"999999.999": 999_999_999_000,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if !got.Eq(uint256.NewInt(want)) {
			t.Fatalf("Parse(%q) = %s, want %d", in, got.Dec(), want)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "-1", "abc", "1.0000001", "NaN", "Infinity", "1,5", "0x10"} {
		if _, err := Parse(in); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Parse(%q): expected ErrInvalid, got %v", in, err)
		}
	}
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("40000000")
	if err != nil {
		t.Fatalf("ParseUnits: %v", err)
	}
	if v.Uint64() != 40_000_000 {
		t.Fatalf("unexpected value %s", v.Dec())
	}
	for _, in := range []string{"", "1.5", "-3", "ten"} {
		if _, err := ParseUnits(in); !errors.Is(err, ErrInvalid) {
			t.Fatalf("ParseUnits(%q): expected ErrInvalid, got %v", in, err)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := map[uint64]string{
		0:          "0.000000",
		1:          "0.000001",
		12_500_000: "12.500000",
		40_000_000: "40.000000",
	}
	for in, want := range cases {
		if got := Format(uint256.NewInt(in)); got != want {
			t.Fatalf("Format(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatShort(t *testing.T) {
	cases := map[uint64]string{
		12_509_999: "12.50",
		1:          "0.00",
		60_000_000: "60.00",
	}
	for in, want := range cases {
		if got := FormatShort(uint256.NewInt(in)); got != want {
			t.Fatalf("FormatShort(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"0.000001", "123.456789", "1000000.000000"} {
		v := MustParse(s)
		back, err := Parse(Format(v))
		if err != nil {
			t.Fatalf("reparse %q: %v", s, err)
		}
		if !back.Eq(v) {
			t.Fatalf("round trip %q: %s != %s", s, back.Dec(), v.Dec())
		}
	}
}
