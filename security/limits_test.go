package security

import "testing"

func TestOrDefaultFillsZeroFields(t *testing.T) {
	l := Limits{MaxPageTreeDepth: 8}.OrDefault()
	if l.MaxPageTreeDepth != 8 {
		t.Fatalf("explicit value overwritten: %d", l.MaxPageTreeDepth)
	}
	d := DefaultLimits()
	if l.MaxXRefDepth != d.MaxXRefDepth || l.MaxPages != d.MaxPages || l.MaxObjectNumber != d.MaxObjectNumber {
		t.Fatalf("defaults not applied: %+v", l)
	}
	if d.MaxPageTreeDepth != 1024 {
		t.Fatalf("default page tree depth = %d, want 1024", d.MaxPageTreeDepth)
	}
}
