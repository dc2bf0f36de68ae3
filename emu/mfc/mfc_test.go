package mfc

import (
	"testing"

	"github.com/cellcore/ps3core/emu/channel"
	"github.com/cellcore/ps3core/emu/memory"
)

type fakeLS struct {
	data [256 * 1024]byte
}

func (f *fakeLS) ReadAt(addr uint32, n int) []byte {
	if int(addr)+n > len(f.data) {
		return nil
	}
	out := make([]byte, n)
	copy(out, f.data[addr:int(addr)+n])
	return out
}

func (f *fakeLS) WriteAt(addr uint32, data []byte) {
	copy(f.data[addr:], data)
}

func setupMain(t *testing.T, mem *memory.Manager, base, size uint32, fill byte) {
	t.Helper()
	if err := mem.Allocate(base, size, memory.Protection{Read: true, Write: true}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = fill
	}
	if err := mem.CopyFromHost(base, buf); err != nil {
		t.Fatal(err)
	}
}

func TestDMAGetQueuedAndTickedToCompletion(t *testing.T) {
	mem := memory.New()
	setupMain(t, mem, 0x20000, 0x1000, 0x42)

	ls := &fakeLS{}
	ch := channel.New()
	ctrl := New(mem, ls, ch, 1)

	if err := ctrl.Enqueue(Command{Op: Get, LS: 0x1000, Main: 0x20000, Size: 512, Tag: 3}); err != nil {
		t.Fatal(err)
	}
	if ch.AnyTag(1 << 3) {
		t.Fatal("tag should not be complete before the cycle budget elapses")
	}
	for i := 0; i < 256; i++ {
		ctrl.Tick()
	}
	if !ch.AllTag(1 << 3) {
		t.Fatal("expected tag 3 complete after enough ticks")
	}
	for i := 0; i < 512; i++ {
		if ls.data[0x1000+i] != 0x42 {
			t.Fatalf("byte %d: got %#x want 0x42", i, ls.data[0x1000+i])
		}
	}
}

func TestSmallGetCompletesImmediately(t *testing.T) {
	mem := memory.New()
	setupMain(t, mem, 0x30000, 0x1000, 0x7)
	ls := &fakeLS{}
	ch := channel.New()
	ctrl := New(mem, ls, ch, 1)

	if err := ctrl.Enqueue(Command{Op: Get, LS: 0, Main: 0x30000, Size: 64, Tag: 1}); err != nil {
		t.Fatal(err)
	}
	if !ch.AnyTag(1 << 1) {
		t.Fatal("expected small command to complete synchronously")
	}
}

func TestPutConditionalFailureSetsErrorTag(t *testing.T) {
	mem := memory.New()
	setupMain(t, mem, 0x40000, 0x1000, 0)
	ls := &fakeLS{}
	ch := channel.New()
	ctrl := New(mem, ls, ch, 7)

	// No reservation was ever taken, so the conditional store must fail.
	if err := ctrl.Enqueue(Command{Op: PutConditional, LS: 0, Main: 0x40000, Size: 128, Tag: 2}); err != nil {
		t.Fatal(err)
	}
	if ctrl.ErrorTags()&(1<<2) == 0 {
		t.Fatal("expected error tag set for failed store-conditional")
	}
	if !ch.AnyTag(1 << 2) {
		t.Fatal("expected tag to still complete despite the error")
	}
}

func TestGetReservationThenPutConditionalSucceeds(t *testing.T) {
	mem := memory.New()
	setupMain(t, mem, 0x50000, 0x1000, 0xAA)
	ls := &fakeLS{}
	ch := channel.New()
	ctrl := New(mem, ls, ch, 9)

	if err := ctrl.Enqueue(Command{Op: GetReservation, LS: 0x2000, Main: 0x50000, Size: memory.LineSize, Tag: 4}); err != nil {
		t.Fatal(err)
	}
	copy(ls.data[0x2000:0x2000+memory.LineSize], make([]byte, memory.LineSize))
	if err := ctrl.Enqueue(Command{Op: PutConditional, LS: 0x2000, Main: 0x50000, Size: 128, Tag: 5}); err != nil {
		t.Fatal(err)
	}
	if ctrl.ErrorTags()&(1<<5) != 0 {
		t.Fatal("expected store-conditional to succeed against its own fresh reservation")
	}
}
