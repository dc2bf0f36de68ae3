package memory

import "testing"

func rwProt() Protection { return Protection{Read: true, Write: true} }

func TestReadWriteRoundTrip(t *testing.T) {
	m := New()
	if err := m.Allocate(0x1000, PageSize, rwProt()); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	addrs := []uint32{0x1000, 0x1001, 0x1ffd}
	for _, a := range addrs {
		if err := m.WriteU32(a, 0xdeadbeef); err != nil {
			t.Fatalf("write at %#x: %v", a, err)
		}
		v, err := m.ReadU32(a)
		if err != nil {
			t.Fatalf("read at %#x: %v", a, err)
		}
		if v != 0xdeadbeef {
			t.Fatalf("round trip at %#x: got %#x", a, v)
		}
	}
}

func TestBigEndianByteOrder(t *testing.T) {
	m := New()
	if err := m.Allocate(0x2000, PageSize, rwProt()); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteU32(0x2000, 0x01020304); err != nil {
		t.Fatal(err)
	}
	b0, _ := m.ReadU8(0x2000)
	b1, _ := m.ReadU8(0x2001)
	b2, _ := m.ReadU8(0x2002)
	b3, _ := m.ReadU8(0x2003)
	if b0 != 0x01 || b1 != 0x02 || b2 != 0x03 || b3 != 0x04 {
		t.Fatalf("expected big-endian byte layout, got %02x %02x %02x %02x", b0, b1, b2, b3)
	}
}

func TestUnmappedAccessFaults(t *testing.T) {
	m := New()
	if _, err := m.ReadU32(0x5000); err == nil {
		t.Fatal("expected fault on unmapped read")
	}
	var f *Fault
	_, err := m.ReadU32(0x5000)
	if err == nil {
		t.Fatal("expected fault")
	}
	if ok := errorsAsFault(err, &f); !ok {
		t.Fatalf("expected *Fault, got %T", err)
	}
	if f.Intent != IntentRead || f.Address != 0x5000 {
		t.Fatalf("unexpected fault contents: %+v", f)
	}
}

func errorsAsFault(err error, target **Fault) bool {
	if f, ok := err.(*Fault); ok {
		*target = f
		return true
	}
	return false
}

func TestReadOnlyPageRejectsWrite(t *testing.T) {
	m := New()
	if err := m.Allocate(0x3000, PageSize, Protection{Read: true}); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteU8(0x3000, 1); err == nil {
		t.Fatal("expected fault writing read-only page")
	}
}

func TestVectorAlignmentRequired(t *testing.T) {
	m := New()
	if err := m.Allocate(0x4000, PageSize, rwProt()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReadV128(0x4001); err == nil {
		t.Fatal("expected fault on unaligned vector load")
	}
	if _, err := m.ReadV128(0x4010); err != nil {
		t.Fatalf("expected aligned vector load to succeed: %v", err)
	}
}

func TestReservationStoreConditionalRoundTrip(t *testing.T) {
	m := New()
	if err := m.Allocate(0x6000, PageSize, rwProt()); err != nil {
		t.Fatal(err)
	}
	snap, err := m.Reserve(1, 0x6000)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := m.StoreConditional(1, 0x6000, snap[:])
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected store-conditional to succeed when line is unchanged")
	}
}

func TestOverlappingWriteClearsOtherOwnersReservation(t *testing.T) {
	m := New()
	if err := m.Allocate(0x7000, PageSize, rwProt()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reserve(1, 0x7000); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteU32(0x7000+4, 0xff); err != nil {
		t.Fatal(err)
	}
	ok, err := m.StoreConditional(1, 0x7000, make([]byte, LineSize))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected reservation to have been cleared by overlapping write")
	}
}

func TestOwnOrdinaryStoreClearsOwnReservation(t *testing.T) {
	m := New()
	if err := m.Allocate(0x8000, PageSize, rwProt()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reserve(1, 0x8000); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteU8(0x8000, 0x42); err != nil {
		t.Fatal(err)
	}
	ok, err := m.StoreConditional(1, 0x8000, make([]byte, LineSize))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected owner's own ordinary store to clear its own reservation")
	}
}

func TestAtomicIncrementScenario(t *testing.T) {
	m := New()
	if err := m.Allocate(0x9000, PageSize, rwProt()); err != nil {
		t.Fatal(err)
	}
	const addr = 0x9000
	increment := func(owner uint64) {
		for {
			snap, err := m.Reserve(owner, addr)
			if err != nil {
				t.Fatal(err)
			}
			cur := beU32(snap[:4])
			next := snap
			copy(next[:4], putBeU32(cur+1))
			ok, err := m.StoreConditional(owner, addr, next[:])
			if err != nil {
				t.Fatal(err)
			}
			if ok {
				return
			}
		}
	}
	const iterations = 2000
	done := make(chan struct{}, 2)
	for owner := uint64(1); owner <= 2; owner++ {
		go func(o uint64) {
			for i := 0; i < iterations; i++ {
				increment(o)
			}
			done <- struct{}{}
		}(owner)
	}
	<-done
	<-done
	v, err := m.ReadU32(addr)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2*iterations {
		t.Fatalf("expected %d, got %d", 2*iterations, v)
	}
}
