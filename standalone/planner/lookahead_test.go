package planner

import "testing"

// TestLookaheadTwoBlockWindow is the spec's flagged open question: a ring
// holding only two blocks must not dereference a third, nonexistent window
// slot. It should still chain the two blocks' entry/exit speeds correctly.
func TestLookaheadTwoBlockWindow(t *testing.T) {
	r := NewRing(4)

	b0 := r.Reserve()
	*b0 = Block{
		StepEventCount: 800,
		NominalSpeed:   60,
		NominalRate:    4800,
		AccelerationSt: 8000,
		Millimeters:    10,
		MaxEntrySpeed:  10,
		EntrySpeed:     10,
	}
	b0.solveTrapezoid(10.0/60, 60.0/60)
	r.Publish()

	b1 := r.Reserve()
	*b1 = Block{
		StepEventCount: 800,
		NominalSpeed:   60,
		NominalRate:    4800,
		AccelerationSt: 8000,
		Millimeters:    10,
		MaxEntrySpeed:  60,
		EntrySpeed:     60,
	}
	b1.solveTrapezoid(60.0/60, 0.05/60)
	r.Publish()

	if r.Len() != 2 {
		t.Fatalf("expected a 2-block ring, got len %d", r.Len())
	}

	runLookahead(r, 0.05)

	// Must not panic (the regression this guards against is a nil window
	// slot dereference) and must leave both blocks' rates internally
	// consistent.
	got0 := r.At(r.Tail())
	got1 := r.At(r.Tail() + 1)
	if got0.InitialRate < MinStepRate || got0.FinalRate < MinStepRate {
		t.Errorf("block 0 corner rates below floor: %+v", got0)
	}
	if got1.InitialRate < MinStepRate || got1.FinalRate < MinStepRate {
		t.Errorf("block 1 corner rates below floor: %+v", got1)
	}
}

// TestLookaheadSingleBlockSkipsPasses covers count < 2: a lone block has no
// junction to recompute, but must still be retrapezoided against the floor
// exit speed.
func TestLookaheadSingleBlockSkipsPasses(t *testing.T) {
	r := NewRing(4)
	b := r.Reserve()
	*b = Block{
		StepEventCount:  800,
		NominalSpeed:    60,
		NominalRate:     4800,
		AccelerationSt:  8000,
		Millimeters:     10,
		MaxEntrySpeed:   10,
		EntrySpeed:      10,
		RecalculateFlag: true,
	}
	r.Publish()

	runLookahead(r, 0.05)

	got := r.At(r.Tail())
	if got.AccelerateUntil == 0 && got.DecelerateAfter == 0 {
		t.Errorf("single block was never retrapezoided: %+v", got)
	}
}

// TestLookaheadChainsCollinearJunction mirrors spec §8 boundary scenario 2:
// two collinear segments should converge so the shared junction speed
// matches the capped nominal speed on both sides.
func TestLookaheadChainsCollinearJunction(t *testing.T) {
	r := NewRing(4)

	mkBlock := func(entryMax float64) *Block {
		b := r.Reserve()
		*b = Block{
			StepEventCount: 800,
			NominalSpeed:   60,
			NominalRate:    4800,
			AccelerationSt: 80000,
			Millimeters:    10,
			MaxEntrySpeed:  entryMax,
			EntrySpeed:     entryMax,
		}
		b.solveTrapezoid(entryMax/60, 0.05/60)
		r.Publish()
		return b
	}

	mkBlock(60) // first block: nominally reachable from a fresh start
	mkBlock(60) // second, collinear: shares the same max junction speed

	runLookahead(r, 0.05)

	first := r.At(r.Tail())
	second := r.At(r.Tail() + 1)
	if first.EntrySpeed > first.MaxEntrySpeed+1e-9 {
		t.Errorf("first.EntrySpeed %v exceeds MaxEntrySpeed %v", first.EntrySpeed, first.MaxEntrySpeed)
	}
	if second.EntrySpeed > second.MaxEntrySpeed+1e-9 {
		t.Errorf("second.EntrySpeed %v exceeds MaxEntrySpeed %v", second.EntrySpeed, second.MaxEntrySpeed)
	}
}

// TestLookaheadSkipsBusyBlocks verifies a latched block is read but never
// rewritten by either pass.
func TestLookaheadSkipsBusyBlocks(t *testing.T) {
	r := NewRing(4)

	b0 := r.Reserve()
	*b0 = Block{
		StepEventCount: 800,
		NominalSpeed:   60,
		NominalRate:    4800,
		AccelerationSt: 8000,
		Millimeters:    10,
		MaxEntrySpeed:  5,
		EntrySpeed:     5,
		Busy:           true,
	}
	r.Publish()

	b1 := r.Reserve()
	*b1 = Block{
		StepEventCount: 800,
		NominalSpeed:   60,
		NominalRate:    4800,
		AccelerationSt: 8000,
		Millimeters:    10,
		MaxEntrySpeed:  60,
		EntrySpeed:     60,
	}
	r.Publish()

	runLookahead(r, 0.05)

	got := r.At(r.Tail())
	if got.EntrySpeed != 5 {
		t.Errorf("busy block's EntrySpeed was mutated: got %v, want 5", got.EntrySpeed)
	}
}
