package machine

import (
	"testing"

	"github.com/cellcore/ps3core/emu/scheduler"
)

func TestNewAllocatesMainMemory(t *testing.T) {
	m, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Mem.WriteU32(0, 0xdeadbeef); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := m.Mem.ReadU32(0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("got %#x, want 0xdeadbeef", got)
	}
}

func TestAttachAndDetachAux(t *testing.T) {
	m, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	slot, err := m.AttachAux(0)
	if err != nil {
		t.Fatalf("AttachAux: %v", err)
	}
	if slot.ID != 0 {
		t.Fatalf("slot.ID = %d, want 0", slot.ID)
	}
	if m.Aux[0] == nil {
		t.Fatalf("Aux[0] not populated after attach")
	}
	if err := m.DetachAux(0); err != nil {
		t.Fatalf("DetachAux: %v", err)
	}
	if m.Aux[0] != nil {
		t.Fatalf("Aux[0] still populated after detach")
	}
}

func TestAttachAuxOutOfRange(t *testing.T) {
	m, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.AttachAux(scheduler.MaxAuxCores); err == nil {
		t.Fatalf("expected error attaching aux core at out-of-range slot")
	}
}
