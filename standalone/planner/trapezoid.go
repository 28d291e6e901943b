package planner

// solveTrapezoid computes InitialRate, FinalRate, AccelerateUntil and
// DecelerateAfter from entry/exit speed factors (each in [0,1], as a
// fraction of NominalSpeed). It is a no-op when the block is already latched
// by the stepper engine — the mutual-exclusion region against the consumer.
func (b *Block) solveTrapezoid(entryFactor, exitFactor float64) {
	if b.Busy {
		return
	}

	initialRate := ceilInt64(float64(b.NominalRate) * entryFactor)
	finalRate := ceilInt64(float64(b.NominalRate) * exitFactor)
	if initialRate < MinStepRate {
		initialRate = MinStepRate
	}
	if finalRate < MinStepRate {
		finalRate = MinStepRate
	}

	acc := b.AccelerationSt
	n := float64(b.NominalRate)

	accelerateSteps := int64(0)
	decelerateSteps := int64(0)
	if acc > 0 {
		accelerateSteps = ceilInt64((n*n - float64(initialRate)*float64(initialRate)) / (2 * acc))
		decelerateSteps = floorInt64((n*n - float64(finalRate)*float64(finalRate)) / (2 * acc))
	}

	plateau := b.StepEventCount - accelerateSteps - decelerateSteps
	if plateau < 0 {
		// No cruise possible: solve the up/down ramp intersection distance.
		if acc > 0 {
			accelerateSteps = ceilInt64((2*acc*float64(b.StepEventCount) + float64(finalRate)*float64(finalRate) - float64(initialRate)*float64(initialRate)) / (4 * acc))
		} else {
			accelerateSteps = b.StepEventCount / 2
		}
		if accelerateSteps < 0 {
			accelerateSteps = 0
		}
		if accelerateSteps > b.StepEventCount {
			accelerateSteps = b.StepEventCount
		}
		plateau = 0
	}

	b.InitialRate = initialRate
	b.FinalRate = finalRate
	b.AccelerateUntil = accelerateSteps
	b.DecelerateAfter = accelerateSteps + plateau
}

func ceilInt64(v float64) int64 {
	i := int64(v)
	if v > float64(i) {
		i++
	}
	return i
}

func floorInt64(v float64) int64 {
	i := int64(v)
	if v < float64(i) {
		i--
	}
	return i
}
