package live

import (
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"pgregory.net/rapid"

	"github.com/gosight/gosight/signals/internal/models"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func entry(seq uint64, user string, kind models.ReplayKind, source string, ts int64) models.LogEntry {
	return models.LogEntry{
		Seq:          seq,
		SourceUserID: user,
		Event:        models.ReplayEvent{Kind: kind, Source: source, Timestamp: ts},
	}
}

func seqs(entries []models.LogEntry) []uint64 {
	out := make([]uint64, len(entries))
	for i, e := range entries {
		out[i] = e.Seq
	}
	return out
}

func TestProject(t *testing.T) {
	log := []models.LogEntry{
		entry(1, "alice", models.KindFull, "", 1000),
		entry(2, "bob", models.KindIncremental, "click", 3000),
		entry(3, "alice", models.KindIncremental, "scroll", 2000),
		entry(4, "alice", models.KindIncremental, "input", 2000),
		entry(5, "bob", models.KindIncremental, "click", 9000),
	}
	now := time.UnixMilli(5000)

	tests := []struct {
		name string
		view View
		want []uint64
	}{
		{"all users no delay", View{}, []uint64{1, 3, 4, 2}},
		{"delay hides recent", View{DelayMs: 2500}, []uint64{1, 3, 4}},
		{"source filter", View{SourceUser: "bob"}, []uint64{2}},
		{"delay and filter", View{DelayMs: 3000, SourceUser: "alice"}, []uint64{1, 3, 4}},
		{"everything hidden", View{DelayMs: 5000}, []uint64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := seqs(Project(log, now, tt.view))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Project() = %v, want %v", got, tt.want)
			}
		})
	}

	if log[1].Seq != 2 || log[2].Seq != 3 {
		t.Error("Project reordered its input")
	}
}

func TestNextVisible(t *testing.T) {
	log := []models.LogEntry{
		entry(1, "a", models.KindFull, "", 1000),
		entry(2, "a", models.KindIncremental, "click", 4500),
		entry(3, "b", models.KindIncremental, "click", 4200),
	}
	at, ok := nextVisible(log, time.UnixMilli(5000), View{DelayMs: 1000})
	if !ok || at.UnixMilli() != 5200 {
		t.Errorf("nextVisible = %v, %v", at.UnixMilli(), ok)
	}
	at, ok = nextVisible(log, time.UnixMilli(5000), View{DelayMs: 1000, SourceUser: "a"})
	if !ok || at.UnixMilli() != 5500 {
		t.Errorf("nextVisible(a) = %v, %v", at.UnixMilli(), ok)
	}
	if _, ok := nextVisible(log, time.UnixMilli(9000), View{}); ok {
		t.Error("nothing should be pending")
	}
}

func TestComputeStats(t *testing.T) {
	st := ComputeStats([]models.LogEntry{
		entry(1, "a", models.KindFull, "", 1),
		entry(2, "a", models.KindIncremental, "click", 2),
		entry(3, "a", models.KindIncremental, "click", 3),
		entry(4, "a", models.KindIncremental, "scroll", 4),
		entry(5, "a", models.KindIncremental, "input", 5),
		entry(6, "a", models.KindIncremental, "mutation", 6),
	})
	want := Stats{Events: 6, Clicks: 2, Scrolls: 1, Inputs: 1}
	if st != want {
		t.Errorf("ComputeStats() = %+v, want %+v", st, want)
	}
}

func TestReconstruct(t *testing.T) {
	full1 := entry(1, "a", models.KindFull, "", 1000)
	delta2 := entry(2, "a", models.KindIncremental, "click", 1500)
	delta3 := entry(3, "b", models.KindIncremental, "click", 2000)
	full4 := entry(4, "b", models.KindFull, "", 2500)
	delta5 := entry(5, "b", models.KindIncremental, "click", 3000)
	log := []models.LogEntry{full1, delta2, delta3, full4, delta5}

	tests := []struct {
		name        string
		log         []models.LogEntry
		visible     []models.LogEntry
		view        View
		want        []uint64
		wantWaiting bool
	}{
		{"starts with snapshot", log, []models.LogEntry{full1, delta2}, View{}, []uint64{1, 2}, false},
		{"prepends earlier snapshot", log, []models.LogEntry{delta3, full4, delta5}, View{}, []uint64{1, 3, 4, 5}, false},
		{"starts at first snapshot inside", []models.LogEntry{delta3, full4, delta5}, []models.LogEntry{delta3, full4, delta5}, View{}, []uint64{4, 5}, false},
		{"other source snapshot skipped", log, []models.LogEntry{delta3, full4, delta5}, View{SourceUser: "b"}, []uint64{4, 5}, false},
		{"no snapshot yet", []models.LogEntry{delta2, delta3}, []models.LogEntry{delta2, delta3}, View{}, nil, true},
		{"empty", log, nil, View{}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconstruct(tt.log, tt.visible, tt.view)
			if got.Waiting != tt.wantWaiting {
				t.Fatalf("Waiting = %v", got.Waiting)
			}
			if tt.wantWaiting {
				if len(got.Entries) != 0 {
					t.Errorf("waiting replay has entries %v", seqs(got.Entries))
				}
				return
			}
			if !reflect.DeepEqual(seqs(got.Entries), tt.want) {
				t.Errorf("Reconstruct() = %v, want %v", seqs(got.Entries), tt.want)
			}
		})
	}
}

func TestReconstruct_FilteredViewWaitsForOwnSnapshot(t *testing.T) {
	log := []models.LogEntry{
		entry(1, "bob", models.KindFull, "", 100),
		entry(2, "alice", models.KindIncremental, "click", 200),
	}
	v := View{SourceUser: "alice"}

	got := Reconstruct(log, Project(log, time.UnixMilli(1000), v), v)
	if !got.Waiting || len(got.Entries) != 0 {
		t.Fatalf("Reconstruct() = waiting %v entries %v, want waiting", got.Waiting, seqs(got.Entries))
	}

	all := Reconstruct(log, Project(log, time.UnixMilli(1000), View{}), View{})
	if all.Waiting || !reflect.DeepEqual(seqs(all.Entries), []uint64{1, 2}) {
		t.Errorf("unfiltered Reconstruct() = %v", seqs(all.Entries))
	}
}

func genLog(t *rapid.T) []models.LogEntry {
	n := rapid.IntRange(0, 50).Draw(t, "n")
	log := make([]models.LogEntry, n)
	for i := range log {
		log[i] = entry(
			uint64(i+1),
			rapid.SampledFrom([]string{"alice", "bob", "carol"}).Draw(t, "user"),
			rapid.SampledFrom([]models.ReplayKind{models.KindFull, models.KindIncremental, models.KindMeta}).Draw(t, "kind"),
			rapid.SampledFrom([]string{"click", "scroll", "input", "mutation"}).Draw(t, "source"),
			rapid.Int64Range(1, 10_000).Draw(t, "ts"),
		)
	}
	return log
}

func genView(t *rapid.T, label string) View {
	return View{
		DelayMs:    rapid.SampledFrom([]int64{0, 500, 1000, 2000, 3000}).Draw(t, label+"_delay"),
		SourceUser: rapid.SampledFrom([]string{"", "alice", "bob"}).Draw(t, label+"_user"),
	}
}

func TestProject_NothingVisibleBeforeItsDelay(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		log := genLog(t)
		now := time.UnixMilli(rapid.Int64Range(0, 12_000).Draw(t, "now"))
		v := genView(t, "view")

		visible := Project(log, now, v)
		for i, e := range visible {
			if e.Event.Timestamp > now.UnixMilli()-v.DelayMs {
				t.Fatalf("entry %d at %d visible at now=%d delay=%d", e.Seq, e.Event.Timestamp, now.UnixMilli(), v.DelayMs)
			}
			if v.SourceUser != "" && e.SourceUserID != v.SourceUser {
				t.Fatalf("entry from %s leaked into %s view", e.SourceUserID, v.SourceUser)
			}
			if i > 0 && visible[i-1].Event.Timestamp > e.Event.Timestamp {
				t.Fatalf("visible not in timestamp order at %d", i)
			}
		}
	})
}

func TestProject_LowerDelayOnlyAdds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		log := genLog(t)
		now := time.UnixMilli(rapid.Int64Range(0, 12_000).Draw(t, "now"))
		user := rapid.SampledFrom([]string{"", "alice"}).Draw(t, "user")
		high := rapid.Int64Range(0, 5000).Draw(t, "high")
		low := rapid.Int64Range(0, high).Draw(t, "low")

		before := Project(log, now, View{DelayMs: high, SourceUser: user})
		after := Project(log, now, View{DelayMs: low, SourceUser: user})

		present := make(map[uint64]bool, len(after))
		for _, e := range after {
			present[e.Seq] = true
		}
		for _, e := range before {
			if !present[e.Seq] {
				t.Fatalf("entry %d disappeared when delay dropped from %d to %d", e.Seq, high, low)
			}
		}
	})
}

func TestProject_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		log := genLog(t)
		now := time.UnixMilli(rapid.Int64Range(0, 12_000).Draw(t, "now"))
		v := genView(t, "view")

		first := Project(log, now, v)
		// A different view in between must not leave state behind.
		Project(log, now, genView(t, "other"))
		second := Project(log, now, v)

		if !reflect.DeepEqual(first, second) {
			t.Fatalf("projections differ:\n%v\n%v", seqs(first), seqs(second))
		}
		if ComputeStats(first) != ComputeStats(second) {
			t.Fatal("stats differ")
		}
		if !reflect.DeepEqual(Reconstruct(log, first, v), Reconstruct(log, second, v)) {
			t.Fatal("replays differ")
		}
	})
}
