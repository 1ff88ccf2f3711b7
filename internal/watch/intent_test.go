package watch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestIntentMapLastWriterWins(t *testing.T) {
	m := NewIntentMap()
	m.Set("/cache/a.so", Load)
	m.Set("/cache/a.so", Reload)
	m.Set("/cache/b.so", Unload)

	got := m.Drain()
	want := []PathIntent{
		{Path: "/cache/a.so", Intent: Reload},
		{Path: "/cache/b.so", Intent: Unload},
	}
	less := func(a, b PathIntent) bool { return a.Path < b.Path }
	if diff := cmp.Diff(want, got, cmpopts.SortSlices(less)); diff != "" {
		t.Errorf("drained intents mismatch (-want +got):\n%s", diff)
	}
}

func TestIntentMapDrainEmptiesMap(t *testing.T) {
	m := NewIntentMap()
	m.Set("/cache/a.so", Load)
	m.Drain()
	if got := m.Drain(); len(got) != 0 {
		t.Fatalf("second drain returned %d entries, want 0", len(got))
	}
}

func TestChangedSetPop(t *testing.T) {
	s := NewChangedSet()
	if !s.Empty() {
		t.Fatal("new set should be empty")
	}
	s.Add("combat")
	if s.Empty() {
		t.Fatal("set with one member should not be empty")
	}
	name, ok := s.Pop()
	if !ok || name != "combat" {
		t.Fatalf("Pop = %q, %v, want combat, true", name, ok)
	}
	if !s.Empty() {
		t.Fatal("set should be empty after popping its only member")
	}
	if _, ok := s.Pop(); ok {
		t.Fatal("Pop on empty set should return ok=false")
	}
}

func TestTrackedSet(t *testing.T) {
	s := NewTrackedSet()
	if s.Contains("combat") {
		t.Fatal("new set should not contain combat")
	}
	s.Add("combat")
	if !s.Contains("combat") {
		t.Fatal("set should contain combat after Add")
	}
	s.Remove("combat")
	if s.Contains("combat") {
		t.Fatal("set should not contain combat after Remove")
	}
}
