package tle

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const (
	issLine1 = "1 25544U 98067A   25045.18032407  .00016717  00000+0  30099-3 0  9993"
	issLine2 = "2 25544  51.6412 193.5765 0003457 126.2851 233.8519 15.49874301495058"
)

// withChecksum rewrites column 69 so the line carries a valid checksum.
func withChecksum(line string) string {
	sum := 0
	for _, c := range line[:LineLength-1] {
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return line[:LineLength-1] + string(rune('0'+sum%10))
}

func TestParseElementSet(t *testing.T) {
	set, err := ParseElementSet("ISS (ZARYA)  ", issLine1, issLine2)
	if err != nil {
		t.Fatalf("ParseElementSet: %v", err)
	}
	if set.SatID != 25544 {
		t.Errorf("SatID = %d, want 25544", set.SatID)
	}
	if set.Name != "ISS (ZARYA)" {
		t.Errorf("Name = %q, want trimmed name", set.Name)
	}
	want := time.Date(2025, 2, 14, 4, 19, 40, 0, time.UTC)
	if d := set.Epoch.Sub(want); d > time.Second || d < -time.Second {
		t.Errorf("Epoch = %v, want ~%v", set.Epoch, want)
	}
	if set.Label() != "ISS (ZARYA)" {
		t.Errorf("Label = %q", set.Label())
	}
	if (ElementSet{SatID: 7}).Label() != "SAT-7" {
		t.Errorf("unnamed label = %q", (ElementSet{SatID: 7}).Label())
	}
}

func TestParseElementSetRejects(t *testing.T) {
	tests := []struct {
		name  string
		line1 string
		line2 string
	}{
		{"short line1", issLine1[:60], issLine2},
		{"short line2", issLine1, issLine2[:60]},
		{"swapped lines", issLine2, issLine1},
		{"catalog mismatch", issLine1, strings.Replace(issLine2, "25544", "25545", 1)},
		{"bad epoch", strings.Replace(issLine1, "25045.18032407", "25xxx.18032407", 1), issLine2},
		{"garbage", "invalid line 1", "invalid line 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseElementSet("", tt.line1, tt.line2)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error %v does not wrap ErrMalformed", err)
			}
		})
	}
}

func TestVerifyChecksum(t *testing.T) {
	good := withChecksum(issLine1)
	if err := VerifyChecksum(good); err != nil {
		t.Errorf("VerifyChecksum(valid) = %v", err)
	}

	bad := good[:LineLength-1] + string(rune('0'+(int(good[LineLength-1]-'0')+1)%10))
	if err := VerifyChecksum(bad); err == nil {
		t.Error("expected checksum mismatch")
	}
	if err := VerifyChecksum("1 25544"); err == nil {
		t.Error("expected length error")
	}
}

func TestParseMixedFormats(t *testing.T) {
	input := strings.Join([]string{
		"ISS (ZARYA)",
		issLine1,
		issLine2,
		// Two-line entry without a name.
		"1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995",
		"2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05",
		// Orphan garbage that must be skipped.
		"this is not an element set",
		"",
	}, "\n")

	sets, err := Parse(strings.NewReader(input), testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("expected 2 sets, got %d", len(sets))
	}
	if sets[0].SatID != 25544 || sets[0].Name != "ISS (ZARYA)" {
		t.Errorf("first set = %d %q", sets[0].SatID, sets[0].Name)
	}
	if sets[1].SatID != 44713 || sets[1].Name != "" {
		t.Errorf("second set = %d %q", sets[1].SatID, sets[1].Name)
	}
}

func TestStoreReplacesWholesale(t *testing.T) {
	store := NewStore()
	if store.AgeSeconds() != -1 {
		t.Errorf("empty store age = %v, want -1", store.AgeSeconds())
	}

	first, _ := ParseElementSet("OLD NAME", issLine1, issLine2)
	store.Put(first)

	second := first
	second.Name = "NEW NAME"
	second.Line1 = withChecksum(issLine1)
	store.Put(second, ElementSet{SatID: 1, Name: "ONE"})

	got, ok := store.Get(25544)
	if !ok {
		t.Fatal("expected set 25544")
	}
	if got.Name != "NEW NAME" || got.Line1 != second.Line1 {
		t.Errorf("set not replaced: %+v", got)
	}
	if store.Len() != 2 {
		t.Errorf("Len = %d, want 2", store.Len())
	}
	ids := store.IDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 25544 {
		t.Errorf("IDs = %v, want [1 25544]", ids)
	}
	if _, ok := store.Get(99999); ok {
		t.Error("unexpected set 99999")
	}
}
