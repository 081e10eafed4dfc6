package grid

import (
	"math"
	"testing"
)

func TestNewLedgerShape(t *testing.T) {
	lg, err := NewLedger([]float64{100, 110, 120})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if lg.Len() != 4 || lg.FiniteCount() != 2 {
		t.Fatalf("unexpected shape: len=%d finite=%d", lg.Len(), lg.FiniteCount())
	}
	if !math.IsInf(lg.Head().LowerBound, -1) || !math.IsInf(lg.Tail().UpperBound, 1) {
		t.Fatal("sentinels must span to infinity")
	}
	if lg.Head().UpperBound != 100 || lg.Tail().LowerBound != 120 {
		t.Fatalf("sentinel bounds wrong: %+v %+v", lg.Head(), lg.Tail())
	}
	if err := lg.Validate(); err != nil {
		t.Fatalf("fresh ledger must validate: %v", err)
	}
}

func TestNewLedgerRejectsBadBoundaries(t *testing.T) {
	if _, err := NewLedger([]float64{100}); err == nil {
		t.Fatal("expected error for single boundary")
	}
	if _, err := NewLedger([]float64{100, 100}); err == nil {
		t.Fatal("expected error for duplicate boundary")
	}
	if _, err := NewLedger([]float64{110, 100}); err == nil {
		t.Fatal("expected error for descending boundaries")
	}
}

func TestAdvanceRetreat(t *testing.T) {
	lg, _ := NewLedger([]float64{100, 110})

	if err := lg.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := lg.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if lg.Current() != lg.Tail() {
		t.Fatal("expected cursor at tail")
	}
	if err := lg.Advance(); err == nil {
		t.Fatal("advancing past tail must fail")
	}

	if err := lg.Retreat(); err != nil {
		t.Fatalf("retreat: %v", err)
	}
	if err := lg.Retreat(); err != nil {
		t.Fatalf("retreat: %v", err)
	}
	if lg.Current() != lg.Head() {
		t.Fatal("expected cursor at head")
	}
	if err := lg.Retreat(); err == nil {
		t.Fatal("retreating past head must fail")
	}
}

func TestLocate(t *testing.T) {
	lg, _ := NewLedger([]float64{100, 110, 120})

	cases := []struct {
		price float64
		index int
	}{
		{50, 0},
		{100, 1},
		{109.99, 1},
		{110, 2},
		{120, 3},
		{1e9, 3},
	}
	for _, c := range cases {
		l := lg.Locate(c.price)
		if l.Index() != c.index {
			t.Fatalf("Locate(%f) = level %d, want %d", c.price, l.Index(), c.index)
		}
		if !l.Contains(c.price) {
			t.Fatalf("level %d does not contain %f", l.Index(), c.price)
		}
	}
	// Locate 不移动游标
	if lg.Current() != lg.Head() {
		t.Fatal("Locate must not move the cursor")
	}
}
