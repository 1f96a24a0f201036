package run

import "testing"

func TestRegistry_InsertConflict(t *testing.T) {
	reg := newRegistry()
	first := &activeRun{id: "sim-1"}
	if !reg.insert("sim-1", first) {
		t.Fatal("first insert should succeed")
	}
	if reg.insert("sim-1", &activeRun{id: "sim-1"}) {
		t.Error("second insert with same id should fail")
	}
	got, ok := reg.get("sim-1")
	if !ok || got != first {
		t.Error("conflicting insert must not replace the existing entry")
	}
}

func TestRegistry_RemoveAbsentIsNoop(t *testing.T) {
	reg := newRegistry()
	reg.insert("sim-1", &activeRun{id: "sim-1"})
	if !reg.remove("sim-1") {
		t.Error("first remove should report presence")
	}
	if reg.remove("sim-1") {
		t.Error("second remove should be a no-op")
	}
	if reg.remove("never-existed") {
		t.Error("removing an unknown id should be a no-op")
	}
	if reg.len() != 0 {
		t.Errorf("registry should be empty, has %d", reg.len())
	}
}

func TestRegistry_IDsSorted(t *testing.T) {
	reg := newRegistry()
	for _, id := range []string{"c", "a", "b"} {
		reg.insert(id, &activeRun{id: id})
	}
	ids := reg.ids()
	want := []string{"a", "b", "c"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}
