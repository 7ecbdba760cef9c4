package kernel

// frame.go is the physical frame allocator: a flat bitmap over physical frames. Lowest free bit
// wins so allocation order is deterministic for tests. A frame is marked used iff it is
// referenced by exactly one valid page-table entry, the scratch page, or a kernel-stack entry --
// the allocator itself does not know which; it only tracks the bit.

import (
	"fmt"
	"math/bits"

	"github.com/smoynes/yalnix/internal/log"
	"github.com/smoynes/yalnix/internal/machine"
)

// FrameAllocator owns the bitmap of physical frame usage.
type FrameAllocator struct {
	bits  []uint64
	total int
	used  int

	log *log.Logger
}

// NewFrameAllocator creates an allocator over the given number of frames, all initially free.
func NewFrameAllocator(total int, logger *log.Logger) *FrameAllocator {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	words := (total + 63) / 64

	return &FrameAllocator{
		bits:  make([]uint64, words),
		total: total,
		log:   logger,
	}
}

// Alloc returns the lowest-numbered free frame and marks it used, or reports failure. Failure to
// allocate is never fatal to the allocator; it is up to the caller to decide what to do.
func (fa *FrameAllocator) Alloc() (machine.Frame, bool) {
	for i, word := range fa.bits {
		if word == ^uint64(0) {
			continue
		}

		bit := bits.TrailingZeros64(^word)
		frame := i*64 + bit

		if frame >= fa.total {
			break
		}

		fa.bits[i] |= 1 << uint(bit)
		fa.used++

		fa.log.Debug("frame: alloc", "frame", frame, "used", fa.used, "total", fa.total)

		return machine.Frame(frame), true
	}

	fa.log.Warn("frame: exhausted", "used", fa.used, "total", fa.total)

	return machine.InvalidFrame, false
}

// Free marks a frame free. Freeing an already-free frame is a programming error and panics, since
// it means a use-after-free slipped past the frame-conservation invariant.
func (fa *FrameAllocator) Free(f machine.Frame) {
	idx := int(f)
	if idx < 0 || idx >= fa.total {
		panic(fmt.Sprintf("frame: free out of range: %s", f))
	}

	word, bit := idx/64, uint(idx%64)

	if fa.bits[word]&(1<<bit) == 0 {
		panic(fmt.Sprintf("frame: double free: %s", f))
	}

	fa.bits[word] &^= 1 << bit
	fa.used--

	fa.log.Debug("frame: free", "frame", f, "used", fa.used, "total", fa.total)
}

// MarkUsed marks a frame used without returning it from Alloc, for frames pinned at boot (the
// identity-mapped kernel image). Kernel-stack frames come from Alloc.
func (fa *FrameAllocator) MarkUsed(f machine.Frame) {
	idx := int(f)
	if idx < 0 || idx >= fa.total {
		panic(fmt.Sprintf("frame: mark out of range: %s", f))
	}

	word, bit := idx/64, uint(idx%64)

	if fa.bits[word]&(1<<bit) != 0 {
		return // already used; idempotent
	}

	fa.bits[word] |= 1 << bit
	fa.used++
}

// Used returns the number of frames currently in use.
func (fa *FrameAllocator) Used() int {
	return fa.used
}

// Total returns the total number of frames.
func (fa *FrameAllocator) Total() int {
	return fa.total
}

// IsUsed reports whether a frame is currently marked used. It exists mainly to let tests assert
// the frame-conservation invariant (spec §8.1).
func (fa *FrameAllocator) IsUsed(f machine.Frame) bool {
	idx := int(f)
	if idx < 0 || idx >= fa.total {
		return false
	}

	word, bit := idx/64, uint(idx%64)

	return fa.bits[word]&(1<<bit) != 0
}
