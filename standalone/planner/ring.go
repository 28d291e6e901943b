package planner

import "sync/atomic"

// Ring is a fixed-capacity, power-of-two ring of Blocks, single-producer
// (the front end) / single-consumer (the stepper engine). head is the next
// slot to fill, tail is the next slot to execute; both are read and written
// with atomics so the two sides never need a full mutex on the hot path.
// Go has no useful sub-word atomic smaller than 32 bits, so head/tail are
// atomic uint32s rather than the single-byte atomics the source uses —
// functionally identical, since only one side ever writes either index.
type Ring struct {
	blocks []Block
	mask   uint32

	head atomic.Uint32
	tail atomic.Uint32

	// wake is signalled (non-blocking) by the consumer every time it
	// advances tail, waking a producer parked on a full ring or inside
	// Synchronize. This is the channel-based stand-in for a condition
	// variable described as the preferred redesign.
	wake chan struct{}
}

// NewRing allocates a ring. capacity is rounded up to the next power of two.
func NewRing(capacity int) *Ring {
	cap32 := nextPowerOfTwo(capacity)
	return &Ring{
		blocks: make([]Block, cap32),
		mask:   uint32(cap32 - 1),
		wake:   make(chan struct{}, 1),
	}
}

func nextPowerOfTwo(n int) int {
	if n < 2 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (r *Ring) Capacity() int { return int(r.mask) + 1 }

func (r *Ring) Head() uint32 { return r.head.Load() }
func (r *Ring) Tail() uint32 { return r.tail.Load() }

// Empty reports head == tail.
func (r *Ring) Empty() bool { return r.head.Load() == r.tail.Load() }

// Full reports next(head) == tail.
func (r *Ring) Full() bool {
	return (r.head.Load()+1)&r.mask == r.tail.Load()&r.mask
}

// Len returns the number of blocks currently queued.
func (r *Ring) Len() int {
	h, t := r.head.Load(), r.tail.Load()
	return int((h - t) & r.mask)
}

// At returns a pointer to the block at a raw ring index (already masked by
// the caller via Head()/Tail() arithmetic, or masked here for convenience).
func (r *Ring) At(index uint32) *Block {
	return &r.blocks[index&r.mask]
}

// Reserve returns a pointer to the slot the producer should fill next,
// without publishing it yet.
func (r *Ring) Reserve() *Block {
	return r.At(r.head.Load())
}

// Publish advances head, making the just-filled slot visible to the
// consumer. Must be called after all field writes to the reserved block are
// complete (a release fence via the atomic store).
func (r *Ring) Publish() {
	r.head.Add(1)
}

// Advance moves tail forward by one, retiring the block the consumer just
// finished, and wakes any producer waiting on room or drain.
func (r *Ring) Advance() {
	r.tail.Add(1)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Wake is the channel a producer should receive from while waiting for the
// consumer to make progress (room in the ring, or full drain).
func (r *Ring) Wake() <-chan struct{} { return r.wake }
