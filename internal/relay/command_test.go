package relay

import (
	"testing"
)

// drain pops every command and returns the texts in dispatch order.
func drain(b *backlog) []string {
	var out []string
	for {
		cmd, ok := b.popFront()
		if !ok {
			return out
		}
		out = append(out, cmd.text)
	}
}

func TestBacklogLIFO(t *testing.T) {
	var b backlog
	for _, text := range []string{"A", "B", "C"} {
		b.add(clientCommand(nil, text), OrderLIFO)
	}

	got := drain(&b)
	want := []string{"C", "B", "A"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", got, want)
		}
	}
}

func TestBacklogFIFO(t *testing.T) {
	var b backlog
	for _, text := range []string{"A", "B", "C"} {
		b.add(clientCommand(nil, text), OrderFIFO)
	}

	got := drain(&b)
	want := []string{"A", "B", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", got, want)
		}
	}
}

// An urgent entry (requeued in-flight command) must dispatch before
// everything else, even when LIFO submissions arrive afterwards.
func TestBacklogUrgentNotPreempted(t *testing.T) {
	var b backlog
	b.add(clientCommand(nil, "old"), OrderLIFO)
	b.pushUrgent(clientCommand(nil, "retry"))
	b.add(clientCommand(nil, "new"), OrderLIFO)

	got := drain(&b)
	want := []string{"retry", "new", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", got, want)
		}
	}
}

// A parked entry (popped while the link was down) stays ahead of older
// work but does not outrank a newer LIFO submission.
func TestBacklogParkedYieldsToLIFO(t *testing.T) {
	var b backlog
	b.add(clientCommand(nil, "old"), OrderLIFO)
	b.park(clientCommand(nil, "parked"))
	b.add(clientCommand(nil, "new"), OrderLIFO)

	got := drain(&b)
	want := []string{"new", "parked", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", got, want)
		}
	}
}

func TestBacklogParkedBehindUrgent(t *testing.T) {
	var b backlog
	b.pushUrgent(clientCommand(nil, "retry"))
	b.park(clientCommand(nil, "parked"))
	b.add(clientCommand(nil, "new"), OrderLIFO)

	got := drain(&b)
	want := []string{"retry", "new", "parked"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", got, want)
		}
	}
}

func TestBacklogUrgentStacking(t *testing.T) {
	var b backlog
	b.pushUrgent(clientCommand(nil, "first-urgent"))
	b.pushUrgent(quitCommand())

	cmd, ok := b.popFront()
	if !ok || cmd.kind != kindQuit {
		t.Fatalf("expected quit first, got %+v", cmd)
	}
	cmd, ok = b.popFront()
	if !ok || cmd.text != "first-urgent" {
		t.Fatalf("expected first-urgent, got %+v", cmd)
	}
}

func TestBacklogPopEmpty(t *testing.T) {
	var b backlog
	if _, ok := b.popFront(); ok {
		t.Error("pop on empty backlog should report false")
	}
	if b.len() != 0 {
		t.Errorf("len = %d, want 0", b.len())
	}
}

func TestParseOrdering(t *testing.T) {
	tests := []struct {
		input   string
		want    Ordering
		wantErr bool
	}{
		{"", OrderLIFO, false},
		{"lifo", OrderLIFO, false},
		{"fifo", OrderFIFO, false},
		{"random", 0, true},
		{"LIFO", 0, true}, // config values are lowercase
	}

	for _, tt := range tests {
		t.Run("input "+tt.input, func(t *testing.T) {
			got, err := ParseOrdering(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCommandVariants(t *testing.T) {
	g := greetingSentinel()
	if g.origin != nil || g.kind != kindGreeting {
		t.Error("greeting sentinel must have no originator")
	}

	q := quitCommand()
	if q.origin != nil || q.text != "QUIT" {
		t.Errorf("quit command malformed: %+v", q)
	}
}
