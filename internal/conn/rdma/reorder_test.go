package rdma

import "testing"

func seqSlot(seq uint64) *slot {
	s := &slot{buf: make([]byte, trailerSize), trxSize: 0}
	s.setSeq(seq)
	return s
}

func seqsOf(slots []*slot) []uint64 {
	out := make([]uint64, len(slots))
	for i, s := range slots {
		out[i] = s.seq()
	}
	return out
}

func equalSeqs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReorderRingDeliversInOrderArrivals(t *testing.T) {
	t.Parallel()
	r := newReorderRing(4)

	for seq := uint64(0); seq < 4; seq++ {
		out := r.arrive(seqSlot(seq))
		if !equalSeqs(seqsOf(out), []uint64{seq}) {
			t.Fatalf("seq %d: got %v, want immediate delivery", seq, seqsOf(out))
		}
	}
}

func TestReorderRingBuffersOutOfOrderThenFlushes(t *testing.T) {
	t.Parallel()
	r := newReorderRing(4)

	// Establish the window's head at seq 0 (delivered immediately, as
	// the very first arrival always is).
	out := r.arrive(seqSlot(0))
	if !equalSeqs(seqsOf(out), []uint64{0}) {
		t.Fatalf("seq 0 should deliver immediately and set head, got %v", seqsOf(out))
	}

	// seq 2 arrives before the head (now 1) catches up to it: buffered.
	if out := r.arrive(seqSlot(2)); len(out) != 0 {
		t.Fatalf("seq 2 out of order should not deliver yet, got %v", seqsOf(out))
	}

	// seq 1 fills the gap: both 1 and the buffered 2 flush together.
	out = r.arrive(seqSlot(1))
	if !equalSeqs(seqsOf(out), []uint64{1, 2}) {
		t.Fatalf("filling the gap should flush the contiguous run, got %v", seqsOf(out))
	}

	out = r.arrive(seqSlot(3))
	if !equalSeqs(seqsOf(out), []uint64{3}) {
		t.Fatalf("seq 3: got %v", seqsOf(out))
	}
}

func TestReorderRingForceDeliversOnWindowCollision(t *testing.T) {
	t.Parallel()
	r := newReorderRing(4)

	r.arrive(seqSlot(0)) // sets head = 0, delivered immediately; head advances to 1
	r.arrive(seqSlot(2)) // idx 2, buffered: head is still waiting on seq 1

	// seq 6 maps to the same index as seq 2 (6 & 3 == 2 & 3 == 2). The
	// still-parked seq-2 slot is evicted and force-delivered even though
	// the window's true head (1) never arrived.
	out := r.arrive(seqSlot(6))
	if !equalSeqs(seqsOf(out), []uint64{2}) {
		t.Fatalf("collision should force-deliver the occupant first, got %v", seqsOf(out))
	}
}

func TestReorderRingDrainReturnsAllBufferedSlots(t *testing.T) {
	t.Parallel()
	r := newReorderRing(4)

	r.arrive(seqSlot(0)) // sets head = 0, delivered immediately; head advances to 1
	r.arrive(seqSlot(5)) // head is waiting on seq 1; 5 and 6 stay parked
	r.arrive(seqSlot(6))

	drained := r.drain()
	if len(drained) != 2 {
		t.Fatalf("drain returned %d slots, want 2: %v", len(drained), seqsOf(drained))
	}
	if out := r.drain(); len(out) != 0 {
		t.Fatalf("second drain should be empty, got %v", seqsOf(out))
	}
}

func TestNewReorderRingRoundsUpToPowerOfTwo(t *testing.T) {
	t.Parallel()
	r := newReorderRing(5)
	if len(r.buf) != 8 {
		t.Fatalf("window size for w=5: got %d, want 8", len(r.buf))
	}
	if r.mask != 7 {
		t.Fatalf("mask for size 8: got %d, want 7", r.mask)
	}
}
