package machine

// memory.go is the machine's physical memory and the page-table register pair (PTBR0/PTLR0,
// PTBR1/PTLR1) that the kernel loads to control translation.

import (
	"fmt"

	"github.com/smoynes/yalnix/internal/log"
)

// Machine holds the simulated physical memory and the registers the kernel uses to configure
// address translation: the page-table base/length register pairs, the TLB, the trap vector, the
// clock, and the terminal devices.
type Machine struct {
	Phys []byte // Raw physical memory, length == frames*PageSize.

	PTBR0 *PageTable // Kernel region page table. Shared by every process.
	PTBR1 *PageTable // Current process's user region page table.

	TLB    *TLB
	Vector *TrapVector
	Clock  *Clock

	Terminals []*Terminal

	scratch Frame // Frame currently mapped at the scratch VA, or InvalidFrame.

	log *log.Logger
}

// New creates a machine with the given physical memory size (in frames) and number of terminals.
func New(frames int, terminals int, logger *log.Logger) *Machine {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	m := &Machine{
		Phys:    make([]byte, frames*PageSize),
		TLB:     NewTLB(),
		Vector:  NewTrapVector(),
		Clock:   NewClock(),
		scratch: InvalidFrame,
		log:     logger,
	}

	for i := 0; i < terminals; i++ {
		m.Terminals = append(m.Terminals, NewTerminal(i))
	}

	return m
}

// NumFrames returns the total number of physical frames.
func (m *Machine) NumFrames() int {
	return len(m.Phys) / PageSize
}

// FrameBytes returns a slice view onto a frame's bytes. It is used by kernel code that already
// owns the frame outright (e.g. initializing its own kernel stack) and so has no need to go
// through the scratch page.
func (m *Machine) FrameBytes(f Frame) []byte {
	start := int(f) * PageSize
	return m.Phys[start : start+PageSize]
}

// MapScratch maps the fixed scratch page to an arbitrary physical frame and flushes the scratch
// translation, returning a slice view onto the frame. It is how the kernel reads or writes a frame
// belonging to another process's address space. Only one frame may be scratch-mapped at a time;
// callers must UnmapScratch before mapping again.
func (m *Machine) MapScratch(f Frame) ([]byte, error) {
	if m.scratch != InvalidFrame {
		return nil, fmt.Errorf("%w: scratch already mapped to %s", ErrBadAddr, m.scratch)
	}

	m.scratch = f
	m.TLB.FlushAddr(RegionKernel, scratchPage)

	return m.FrameBytes(f), nil
}

// UnmapScratch unmaps the scratch page and flushes its translation.
func (m *Machine) UnmapScratch() {
	m.scratch = InvalidFrame
	m.TLB.FlushAddr(RegionKernel, scratchPage)
}

// ScratchMapped reports whether the scratch page is currently mapped, and to which frame.
func (m *Machine) ScratchMapped() (Frame, bool) {
	return m.scratch, m.scratch != InvalidFrame
}

// scratchPage is the fixed virtual page number, within R0, reserved for scratch mappings.
const scratchPage = -1

// Translate resolves a region/page through the TLB, falling back to (and filling from) the page
// table on a miss. It returns the frame and protection bits, or an error if the page is invalid.
func (m *Machine) Translate(region Region, page int) (Frame, Prot, error) {
	if f, ok := m.TLB.Lookup(region, page); ok {
		pt := m.pageTable(region)
		if pte, valid := pt.Lookup(page); valid && pte.PFN == f {
			return f, pte.Prot, nil
		}
	}

	pt := m.pageTable(region)

	pte, valid := pt.Lookup(page)
	if !valid {
		return InvalidFrame, ProtNone, fmt.Errorf("%w: %s page %d not mapped", ErrBadAddr, region, page)
	}

	m.TLB.Fill(region, page, pte.PFN)

	return pte.PFN, pte.Prot, nil
}

func (m *Machine) pageTable(region Region) *PageTable {
	if region == RegionKernel {
		return m.PTBR0
	}

	return m.PTBR1
}

// SetPTBR1 installs a new user-region page table, as the kernel does on every context switch.
func (m *Machine) SetPTBR1(pt *PageTable) {
	m.PTBR1 = pt
	m.TLB.FlushR1()
}
