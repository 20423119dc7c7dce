package tle

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestArchiveLatest(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, 3)

	if _, _, err := a.Latest(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Latest on empty archive = %v, want ErrNoSnapshot", err)
	}

	base := time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		data := []byte("snapshot " + string(rune('A'+i)))
		if err := a.Save(data, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	// Unrelated files are left alone.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, fetched, err := a.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if string(data) != "snapshot E" || !fetched.Equal(base.Add(4*time.Hour)) {
		t.Errorf("Latest = %q at %v", data, fetched)
	}

	snaps, err := a.snapshots()
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 3 {
		t.Errorf("kept %d snapshots, want 3", len(snaps))
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestArchiveRoundTripParses(t *testing.T) {
	a := NewArchive(filepath.Join(t.TempDir(), "nested", "dir"), 0)
	body := "ISS (ZARYA)\n" + issLine1 + "\n" + issLine2 + "\n"
	if err := a.Save([]byte(body), time.Now()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, _, err := a.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	sets, err := Parse(bytes.NewReader(data), testLogger)
	if err != nil || len(sets) != 1 || sets[0].SatID != 25544 {
		t.Errorf("parsed %d sets, err %v", len(sets), err)
	}
}
