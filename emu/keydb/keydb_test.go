package keydb

import (
	"strings"
	"testing"
)

const sample = `
# comment line
key retail 00:11:22:33:44:55:66:77:88:99:aa:bb:cc:dd:ee:ff 0f:0e:0d:0c:0b:0a:09:08:07:06:05:04:03:02:01:00 PS3 retail ERK
key debug  000102030405060708090a0b0c0d0e0f  -  debug unit key

region main     268435456
region graphics 0x10000000
region heap     67108864
`

func TestLoadKeysAndRegions(t *testing.T) {
	db, err := LoadReader(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	k, ok := db.Lookup(Retail)
	if !ok {
		t.Fatal("expected retail key present")
	}
	if k.Key[0] != 0x00 || k.Key[15] != 0xff {
		t.Fatalf("unexpected key bytes: %x", k.Key)
	}
	if !k.HasIV || k.IV[0] != 0x0f {
		t.Fatalf("expected IV parsed, got %+v", k)
	}
	if k.Description != "PS3 retail ERK" {
		t.Fatalf("unexpected description: %q", k.Description)
	}

	d, ok := db.Lookup(Debug)
	if !ok || d.HasIV {
		t.Fatalf("expected debug key without IV, got %+v", d)
	}

	if db.Regions["main"].Size != 268435456 {
		t.Fatalf("unexpected main region size: %+v", db.Regions["main"])
	}
	if db.Regions["graphics"].Size != 0x10000000 {
		t.Fatalf("unexpected graphics region size: %+v", db.Regions["graphics"])
	}
}

func TestMissingKeyLookupFails(t *testing.T) {
	db := New()
	if _, ok := db.Lookup(App); ok {
		t.Fatal("expected lookup miss on empty database")
	}
}
