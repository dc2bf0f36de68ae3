package scheduler

import (
	"encoding/binary"
	"testing"

	"github.com/cellcore/ps3core/emu/channel"
	"github.com/cellcore/ps3core/emu/mfc"
	"github.com/cellcore/ps3core/emu/memory"
	"github.com/cellcore/ps3core/emu/ppu"
	"github.com/cellcore/ps3core/emu/spu"
)

func TestStepAdvancesPrimaryAndRoundRobinsAux(t *testing.T) {
	mem := memory.New()
	if err := mem.Allocate(0, memory.PageSize, memory.Protection{Read: true, Write: true, Execute: true}); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	primary := ppu.New(mem, 1)
	// addi r3,0,1 ; addi r3,0,2 at 0 and 4
	if err := mem.WriteU32(0, uint32(14)<<26|uint32(3)<<21|1); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sched := New(primary)

	ls0 := spu.NewLocalStore()
	ch0 := channel.New()
	aux0 := &AuxThread{Core: spu.New(0, ls0, ch0), MFC: mfc.New(mem, ls0, ch0, 10), Ch: ch0, Owner: 10}
	ls1 := spu.NewLocalStore()
	ch1 := channel.New()
	aux1 := &AuxThread{Core: spu.New(1, ls1, ch1), MFC: mfc.New(mem, ls1, ch1, 11), Ch: ch1, Owner: 11}
	sched.AttachAux(0, aux0)
	sched.AttachAux(1, aux1)

	sched.Step()
	if primary.PC != 4 {
		t.Fatalf("primary PC = %#x, want 4 after one step", primary.PC)
	}
	if primary.GPR[3] != 1 {
		t.Fatalf("primary r3 = %d, want 1", primary.GPR[3])
	}
}

func encodeRDCH(rt uint8, ch int) uint32 {
	return uint32(0x40)<<24 | uint32(rt)<<17 | uint32(ch)&0x3ff
}

// TestBlockedAuxCoreRetriesChannelAccessEachStep exercises an auxiliary core
// that blocks reading an empty inbound mailbox: it must stay scheduled (not
// skipped forever) across repeated Step calls, and must actually complete
// its read once the mailbox is filled, rather than being stuck Blocked with
// no way for stepAux to ever call Core.Step on it again.
func TestBlockedAuxCoreRetriesChannelAccessEachStep(t *testing.T) {
	ls := spu.NewLocalStore()
	ch := channel.New()
	aux := spu.New(0, ls, ch)

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, encodeRDCH(3, channel.InMbox))
	ls.WriteAt(0, buf)

	sched := New(nil)
	sched.AttachAux(0, &AuxThread{Core: aux, MFC: mfc.New(memory.New(), ls, ch, 1), Ch: ch, Owner: 1})

	sched.Step()
	if !aux.Blocked {
		t.Fatal("expected the core to block reading an empty mailbox")
	}
	if aux.PC != 0 {
		t.Fatalf("PC = %#x, want 0 (blocked instruction retried, not skipped)", aux.PC)
	}

	// A few more passes must leave the core in the same retryable state,
	// not stuck skipped or crashed.
	for i := 0; i < 3; i++ {
		sched.Step()
		if !aux.Blocked || aux.PC != 0 {
			t.Fatalf("pass %d: core left blocked-retry state unexpectedly (blocked=%v pc=%#x)", i, aux.Blocked, aux.PC)
		}
	}

	if !ch.WriteMbox(0xdead) {
		t.Fatal("WriteMbox: mailbox unexpectedly full")
	}

	sched.Step()
	if aux.Blocked {
		t.Fatal("expected the core to unblock once the mailbox held a value")
	}
	if aux.Regs[3][3] != 0xdead {
		t.Fatalf("r3 = %#x, want 0xdead", aux.Regs[3][3])
	}
	if aux.PC != 4 {
		t.Fatalf("PC = %#x, want 4 after the read completed", aux.PC)
	}
}

func TestDetachAuxClearsReservation(t *testing.T) {
	mem := memory.New()
	if err := mem.Allocate(0, memory.PageSize, memory.Protection{Read: true, Write: true, Execute: true}); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	primary := ppu.New(mem, 1)
	sched := New(primary)

	ls := spu.NewLocalStore()
	ch := channel.New()
	aux := &AuxThread{Core: spu.New(0, ls, ch), MFC: mfc.New(mem, ls, ch, 99), Ch: ch, Owner: 99}
	sched.AttachAux(0, aux)

	if _, err := mem.Reserve(99, 0); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	sched.DetachAux(0, mem)

	ok, err := mem.StoreConditional(99, 0, []byte{0, 0, 0, 1})
	if err != nil {
		t.Fatalf("store-conditional: %v", err)
	}
	if ok {
		t.Fatalf("store-conditional succeeded after detach dropped the reservation")
	}
}
