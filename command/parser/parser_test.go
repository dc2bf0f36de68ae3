package parser

import "testing"

func TestGetHexAndNumber(t *testing.T) {
	line := cmdLine{line: "1a2b 42"}
	v, err := line.getHex()
	if err != nil {
		t.Fatalf("getHex: %v", err)
	}
	if v != 0x1a2b {
		t.Fatalf("getHex = %#x, want 0x1a2b", v)
	}
	n, err := line.getNumber()
	if err != nil {
		t.Fatalf("getNumber: %v", err)
	}
	if n != 42 {
		t.Fatalf("getNumber = %d, want 42", n)
	}
}

func TestGetWordLowercases(t *testing.T) {
	line := cmdLine{line: "STEP 5"}
	w := line.getWord(false)
	if w != "step" {
		t.Fatalf("getWord = %q, want step", w)
	}
}

func TestMatchCommandRespectsMin(t *testing.T) {
	if !matchCommand(cmd{Name: "step", Min: 2}, "st") {
		t.Fatalf("expected \"st\" to match step (min 2)")
	}
	if matchCommand(cmd{Name: "stop", Min: 3}, "st") {
		t.Fatalf("expected \"st\" not to match stop (min 3)")
	}
}

func TestMatchListBelowMinMatchesNothing(t *testing.T) {
	matches := matchList("s")
	if len(matches) != 0 {
		t.Fatalf("expected \"s\" to match no command (shorter than step/stop Min), got %d matches", len(matches))
	}
}

func TestProcessCommandUnknown(t *testing.T) {
	if _, err := ProcessCommand("bogus", nil); err == nil {
		t.Fatalf("expected error for unknown command")
	}
}
