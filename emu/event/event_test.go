package event

import "testing"

func TestAdvanceFiresInOrder(t *testing.T) {
	l := NewList()
	var order []int
	l.Add("a", func(arg int) { order = append(order, arg) }, 10, 1)
	l.Add("a", func(arg int) { order = append(order, arg) }, 5, 2)
	l.Add("a", func(arg int) { order = append(order, arg) }, 20, 3)

	l.Advance(5)
	if len(order) != 1 || order[0] != 2 {
		t.Fatalf("expected event 2 first, got %v", order)
	}
	l.Advance(5)
	if len(order) != 2 || order[1] != 1 {
		t.Fatalf("expected event 1 second, got %v", order)
	}
	l.Advance(10)
	if len(order) != 3 || order[2] != 3 {
		t.Fatalf("expected event 3 last, got %v", order)
	}
	if l.Any() {
		t.Fatal("expected list empty after all events fired")
	}
}

func TestCancelRemovesEvent(t *testing.T) {
	l := NewList()
	fired := false
	l.Add("dev", func(int) { fired = true }, 10, 7)
	l.Cancel("dev", 7)
	l.Advance(20)
	if fired {
		t.Fatal("expected cancelled event not to fire")
	}
}

func TestZeroDelayRunsImmediately(t *testing.T) {
	l := NewList()
	fired := false
	l.Add("dev", func(int) { fired = true }, 0, 0)
	if !fired {
		t.Fatal("expected zero-delay event to run synchronously")
	}
	if l.Any() {
		t.Fatal("zero-delay event should not be queued")
	}
}

func TestDecrementerHitsZeroAfterNTicks(t *testing.T) {
	l := NewList()
	hit := false
	l.Add("dec", func(int) { hit = true }, 100, 0)
	for i := 0; i < 99; i++ {
		l.Advance(1)
		if hit {
			t.Fatalf("decrementer fired early at tick %d", i)
		}
	}
	l.Advance(1)
	if !hit {
		t.Fatal("expected decrementer event after 100 ticks")
	}
}
