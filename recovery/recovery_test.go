package recovery

import (
	"errors"
	"strings"
	"testing"
)

func TestStrategies(t *testing.T) {
	err := errors.New("bad hint stream")
	loc := Location{ByteOffset: 812, Component: "hints"}

	if a := NewStrictStrategy().OnError(nil, err, loc); a.Tolerated() {
		t.Fatalf("strict strategy tolerated %v", a)
	}

	rec := NewLenientStrategy()
	if a := rec.OnError(nil, err, loc); !a.Tolerated() {
		t.Fatalf("lenient strategy refused: %v", a)
	}
	if len(rec.Errors) != 1 || !errors.Is(rec.Errors[0], err) {
		t.Fatalf("expected recorded error, got %v", rec.Errors)
	}
	if !strings.Contains(rec.Errors[0].Error(), "[hints] offset 812") {
		t.Fatalf("unexpected message %q", rec.Errors[0])
	}
}

func TestLenientStrategyLimit(t *testing.T) {
	rec := &LenientStrategy{Limit: 2}
	for i := 0; i < 5; i++ {
		rec.OnError(nil, errors.New("x"), Location{})
	}
	if len(rec.Errors) != 2 {
		t.Fatalf("kept %d errors, want 2", len(rec.Errors))
	}
}

func TestDecideNilStrategy(t *testing.T) {
	if Decide(nil, errors.New("x"), Location{}) != ActionFail {
		t.Fatalf("nil strategy must fail")
	}
}
