package rdma

import "sync"

// reorderRing is the receive-side reassembly window spec §4.5.4
// describes: completions can arrive out of trailer-sequence order
// across a striped set of endpoints, so the CQ reactor places each
// arriving slot at seq & (W-1) and only delivers the contiguous run
// starting at the window's head.
type reorderRing struct {
	mu      sync.Mutex
	buf     []*slot
	mask    uint64
	head    uint64
	headSet bool
}

// newReorderRing builds a window of size w, rounded up to the next
// power of two so seq & (w-1) is a valid ring index.
func newReorderRing(w int) *reorderRing {
	size := 1
	for size < w {
		size <<= 1
	}
	return &reorderRing{buf: make([]*slot, size), mask: uint64(size - 1)}
}

// arrive places s (already stamped with its trailer sequence) into the
// window and returns every slot now ready for in-order delivery, in
// order. If s's index collides with a still-occupied slot because the
// gap between head and s.seq() exceeds the window (spec boundary case
// "seq gaps larger than window size: oldest slot is delivered first"),
// the occupant is force-delivered ahead of the normal contiguous run so
// the window never deadlocks on a slot that will never arrive.
func (r *reorderRing) arrive(s *slot) []*slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := s.seq()
	if !r.headSet {
		r.head = seq
		r.headSet = true
	}

	var out []*slot
	idx := seq & r.mask
	if occ := r.buf[idx]; occ != nil {
		r.buf[idx] = nil
		out = append(out, occ)
		if occ.seq() == r.head {
			r.head++
		}
	}
	r.buf[idx] = s

	out = append(out, r.flushLocked()...)
	return out
}

// flushLocked delivers whatever contiguous run is already available
// starting at head, without inserting anything. Caller must hold mu.
func (r *reorderRing) flushLocked() []*slot {
	var out []*slot
	for {
		hidx := r.head & r.mask
		cur := r.buf[hidx]
		if cur == nil || cur.seq() != r.head {
			break
		}
		r.buf[hidx] = nil
		out = append(out, cur)
		r.head++
	}
	return out
}

// flushReady delivers whatever contiguous run is already available at
// the ring's current head without requiring a new slot to arrive
// (spec §4.5.4: "-FI_ECANCELED: recycle the slot, attempt an in-order
// flush (a canceled receive does not advance head)" — the canceled
// receive itself carries no data, so it only triggers a flush attempt,
// never an insert).
func (r *reorderRing) flushReady() []*slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

// drain empties the window unconditionally, in index order, for
// shutdown (spec §4.5.5: in-flight reorder slots are returned to the
// pool rather than leaked).
func (r *reorderRing) drain() []*slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*slot
	for i, s := range r.buf {
		if s != nil {
			out = append(out, s)
			r.buf[i] = nil
		}
	}
	return out
}
