package gpio

import "testing"

func TestFakeBackendOutputRecordsDuty(t *testing.T) {
	b := NewFakeBackend()
	out, err := b.OpenOutput(Pin(18))
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	if err := out.WriteDuty(128); err != nil {
		t.Fatalf("WriteDuty: %v", err)
	}

	duty, ok := b.LastDuty(Pin(18))
	if !ok || duty != 128 {
		t.Fatalf("LastDuty: got (%d, %v), want (128, true)", duty, ok)
	}
}

func TestFakeBackendWriteAfterCloseFails(t *testing.T) {
	b := NewFakeBackend()
	out, _ := b.OpenOutput(Pin(18))
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := out.WriteDuty(1); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFakeBackendInjectEdgeInvokesCallback(t *testing.T) {
	b := NewFakeBackend()
	var got []EdgeEvent
	in, err := b.OpenInput(Pin(21), func(ev EdgeEvent) {
		got = append(got, ev)
	})
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	defer in.Close()

	b.InjectEdge(Pin(21), EdgeEvent{Level: true, TickUs: 1000})
	b.InjectEdge(Pin(21), EdgeEvent{Level: true, TickUs: 2000})

	if len(got) != 2 {
		t.Fatalf("expected 2 delivered edges, got %d", len(got))
	}
	if got[1].TickUs != 2000 {
		t.Errorf("expected second edge tick_us=2000, got %d", got[1].TickUs)
	}
}

func TestFakeBackendInjectEdgeAfterCloseIsIgnored(t *testing.T) {
	b := NewFakeBackend()
	var calls int
	in, _ := b.OpenInput(Pin(21), func(ev EdgeEvent) { calls++ })
	in.Close()

	b.InjectEdge(Pin(21), EdgeEvent{Level: true, TickUs: 1000})

	if calls != 0 {
		t.Errorf("expected no callback after close, got %d calls", calls)
	}
}

func TestFakeBackendSimulatedTrue(t *testing.T) {
	b := NewFakeBackend()
	if !b.Simulated() {
		t.Error("expected FakeBackend.Simulated() == true")
	}
}
