package scheduler

import (
	"testing"
	"time"

	"github.com/star/trackgo/internal/track"
)

func record(id int64, stage track.DataType, n int) track.Track {
	pts := make([]track.Point, n)
	for i := range pts {
		pts[i] = track.Point{PassID: id, Index: i, Stage: stage, Azimuth: float64(i)}
	}
	return track.Track{Pass: track.Pass{ID: id, Stage: stage}, Points: pts}
}

func TestPassStore(t *testing.T) {
	s := NewPassStore(10, time.Hour)
	s.Put(
		record(2, track.Raw, 3),
		record(2, track.FinalTransformed, 3),
		record(1, track.Raw, 1),
		record(1, track.AxisTransformed, 1),
		record(2, track.KeyholeFinalHeuristic, 3),
	)

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	raw, ok := s.Raw(2)
	if !ok || raw.Pass.Stage != track.Raw || len(raw.Points) != 3 {
		t.Fatalf("Raw(2) = %+v, %v", raw.Pass, ok)
	}
	if _, ok := s.Get(1, track.FinalTransformed); ok {
		t.Error("unexpected final record for pass 1")
	}
	if _, ok := s.Raw(3); ok {
		t.Error("unexpected pass 3")
	}

	stages := s.Stages(2)
	want := []track.DataType{track.Raw, track.FinalTransformed, track.KeyholeFinalHeuristic}
	if len(stages) != len(want) {
		t.Fatalf("Stages(2) = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("Stages(2)[%d] = %q, want %q", i, stages[i], want[i])
		}
	}

	all := s.All()
	if len(all) != 5 {
		t.Fatalf("All returned %d headers, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID < all[i-1].ID {
			t.Fatalf("All not ordered by id: %d after %d", all[i].ID, all[i-1].ID)
		}
	}
	if all[0].ID != 1 || all[0].Stage != track.Raw || all[1].Stage != track.AxisTransformed {
		t.Errorf("All()[0:2] = %+v %+v", all[0], all[1])
	}
}

func TestPassStoreCommanded(t *testing.T) {
	s := NewPassStore(10, time.Hour)
	s.Put(record(5, track.Raw, 2))
	if _, ok := s.Commanded(5); ok {
		t.Fatal("raw-only pass has no commanded track")
	}

	steps := []track.DataType{track.FinalTransformed, track.KeyholeFinalHeuristic, track.KeyholeFinalOptimized}
	for _, stage := range steps {
		s.Put(record(5, stage, 2))
		got, ok := s.Commanded(5)
		if !ok || got.Pass.Stage != stage {
			t.Errorf("after storing %q, Commanded = %q", stage, got.Pass.Stage)
		}
	}
}

func TestPassStoreEvictsOldest(t *testing.T) {
	s := NewPassStore(2, time.Hour)
	for id := int64(1); id <= 3; id++ {
		s.Put(record(id, track.Raw, 1))
	}
	if _, ok := s.Raw(1); ok {
		t.Error("pass 1 should have been evicted")
	}
	if _, ok := s.Raw(3); !ok {
		t.Error("pass 3 missing")
	}
}
