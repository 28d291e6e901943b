package planner

import "math"

// runLookahead re-solves junction entry speeds across every block currently
// in the ring (reverse pass, then forward pass), then re-derives the
// affected blocks' trapezoids (retrapezoid pass). It runs synchronously
// inside the producer after every append; it is safe to run concurrently
// with the consumer advancing tail because it only ever mutates a block
// while that block's Busy flag is false, and only reads a single snapshot
// of tail for the duration of the pass.
func runLookahead(r *Ring, minimumPlannerSpeed float64) {
	head := r.Head() & r.mask
	tail := r.Tail() & r.mask

	count := (head - tail) & r.mask
	if count < 2 {
		// Nothing to look ahead across; still retrapezoid the sole block
		// against the floor exit speed so a single queued move gets a
		// correct trapezoid.
		retrapezoid(r, tail, head, minimumPlannerSpeed)
		return
	}

	// Reverse pass: newest to oldest, skipping the newest slot and stopping
	// before tail (i.e. indices head-2 down to tail+1).
	for idx := (head - 2) & r.mask; idx != tail; idx = (idx - 1) & r.mask {
		cur := r.At(idx)
		next := r.At((idx + 1) & r.mask)
		if cur.Busy {
			continue
		}
		if cur.EntrySpeed != cur.MaxEntrySpeed {
			if !cur.NominalLengthFlag && cur.MaxEntrySpeed > next.EntrySpeed {
				cur.EntrySpeed = math.Min(cur.MaxEntrySpeed,
					math.Sqrt(next.EntrySpeed*next.EntrySpeed+2*cur.Acceleration*cur.Millimeters))
			} else {
				cur.EntrySpeed = cur.MaxEntrySpeed
			}
			cur.RecalculateFlag = true
		}
	}

	// Forward pass: tail to head (oldest to newest, excluding head itself).
	for idx := tail; (idx+1)&r.mask != head; idx = (idx + 1) & r.mask {
		prev := r.At(idx)
		cur := r.At((idx + 1) & r.mask)
		if cur.Busy {
			continue
		}
		if !prev.NominalLengthFlag && prev.EntrySpeed < cur.EntrySpeed {
			limit := math.Sqrt(prev.EntrySpeed*prev.EntrySpeed + 2*prev.Acceleration*prev.Millimeters)
			if limit < cur.EntrySpeed {
				cur.EntrySpeed = limit
			}
			cur.RecalculateFlag = true
		}
	}

	retrapezoid(r, tail, head, minimumPlannerSpeed)
}

// retrapezoid walks tail..head-1 and re-solves the trapezoid of every block
// whose own RecalculateFlag, or whose successor's RecalculateFlag, is set.
// The last block in the ring is always retrapezoided with an exit factor of
// MinimumPlannerSpeed/NominalSpeed, since there is no successor to chain
// into.
func retrapezoid(r *Ring, tail, head uint32, minimumPlannerSpeed float64) {
	if head == tail {
		return
	}
	last := (head - 1) & r.mask
	for idx := tail; ; idx = (idx + 1) & r.mask {
		cur := r.At(idx)
		isLast := idx == last
		var nextRecalc bool
		var exitSpeed float64
		if isLast {
			exitSpeed = minimumPlannerSpeed
			nextRecalc = true
		} else {
			next := r.At((idx + 1) & r.mask)
			exitSpeed = next.EntrySpeed
			nextRecalc = next.RecalculateFlag
		}

		if (cur.RecalculateFlag || nextRecalc) && !cur.Busy {
			entryFactor := cur.EntrySpeed / cur.NominalSpeed
			exitFactor := exitSpeed / cur.NominalSpeed
			cur.solveTrapezoid(entryFactor, exitFactor)
			cur.RecalculateFlag = false
		}

		if isLast {
			break
		}
	}
}
