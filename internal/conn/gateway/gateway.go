// Package gateway implements the zero-copy gateway connection pair
// (spec §4.9): a SysV shared-memory mailbox ring between two proxy
// instances on the same host, avoiding a second SHM-ring hop through
// the external ring library when both ends are local. Framing reuses
// the RDMA pool's 8-byte trailer convention (§4.5) for the ring's
// per-slot sequence header, per the Open Question resolution recorded
// in DESIGN.md.
package gateway

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	trailerSize = 8
	// ringSlots is fixed rather than configurable: the Open Question
	// leaves slot count undefined, and a fixed power-of-two keeps the
	// offset-counter arithmetic (counter & (ringSlots-1)) simple.
	ringSlots = 64
)

// Config is the pair the Open Question names: the SysV key and the
// payload region size. Per-slot payload size is MemRegionSize/ringSlots;
// each slot's 8-byte trailer and the 16-byte counter area are added on
// top of that when the segment is sized.
type Config struct {
	SysvKey      int32
	MemRegionSize uint64
}

func (c Config) slotSize() int {
	return int(c.MemRegionSize) / ringSlots
}

// segment wraps one SysV shared memory attachment, laid out as
// ringSlots fixed-size slots each ending in an 8-byte sequence trailer,
// plus a shared head/tail offset counter pair stored in the first 16
// bytes of the segment.
type segment struct {
	id   int
	data []byte
}

const counterAreaSize = 16 // 2 x uint64: write counter, read counter

func attach(cfg Config, create bool) (*segment, error) {
	flags := 0o600
	if create {
		flags |= unix.IPC_CREAT
	}
	size := counterAreaSize + ringSlots*(cfg.slotSize()+trailerSize)
	id, err := unix.SysvShmGet(int(cfg.SysvKey), size, flags)
	if err != nil {
		return nil, fmt.Errorf("gateway: shmget key=%d: %w", cfg.SysvKey, err)
	}
	data, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("gateway: shmat id=%d: %w", id, err)
	}
	return &segment{id: id, data: data}, nil
}

func (s *segment) close() error {
	return unix.SysvShmDetach(s.data)
}

func (s *segment) writeCounter() uint64 {
	return binary.BigEndian.Uint64(s.data[0:8])
}

func (s *segment) setWriteCounter(v uint64) {
	binary.BigEndian.PutUint64(s.data[0:8], v)
}

func (s *segment) readCounter() uint64 {
	return binary.BigEndian.Uint64(s.data[8:16])
}

func (s *segment) setReadCounter(v uint64) {
	binary.BigEndian.PutUint64(s.data[8:16], v)
}

func (s *segment) slot(cfg Config, idx uint64) []byte {
	stride := cfg.slotSize() + trailerSize
	off := counterAreaSize + int(idx%ringSlots)*stride
	return s.data[off : off+stride]
}
