package run

import "testing"

func TestInterpretProgress_Patterns(t *testing.T) {
	cases := []struct {
		line   string
		want   int
		wantOK bool
	}{
		{"Progress: 45.5%", 46, true},
		{"progress = 12%", 12, true},
		{"73% complete", 73, true},
		{"Cycle 50 of 100", 50, true},
		{"cycle 1 of 3", 33, true},
		{"Time: 30 / 120", 25, true},
		{"time=90/60", 100, true},
		{"Progress: 150%", 100, true},
		{"Random output", 0, false},
		{"Cycle 5 of 0", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := InterpretProgress(c.line)
		if ok != c.wantOK {
			t.Errorf("InterpretProgress(%q) ok = %v, want %v", c.line, ok, c.wantOK)
			continue
		}
		if ok && got != c.want {
			t.Errorf("InterpretProgress(%q) = %d, want %d", c.line, got, c.want)
		}
	}
}

func TestInterpretProgress_PriorityOrder(t *testing.T) {
	// An explicit percentage outranks a cycle counter on the same line.
	got, ok := InterpretProgress("Cycle 10 of 100, progress: 80%")
	if !ok || got != 80 {
		t.Errorf("expected explicit percent to win, got %d (ok=%v)", got, ok)
	}
}

func TestInterpretProgress_Clamping(t *testing.T) {
	for _, line := range []string{"Progress: 900%", "Cycle 500 of 100", "Time: 7200 / 60"} {
		got, ok := InterpretProgress(line)
		if !ok {
			t.Fatalf("expected a match for %q", line)
		}
		if got < 0 || got > 100 {
			t.Errorf("InterpretProgress(%q) = %d, outside [0,100]", line, got)
		}
	}
}
