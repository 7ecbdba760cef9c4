package machine

// types.go defines the basic data types shared by the rest of the package.

import "fmt"

// PageSize is the number of bytes in a single page/frame. It is a hardware constant of the
// simulated machine.
const PageSize = 4096

// Word is an address or a general-purpose data value in the simulated machine.
type Word uint32

func (w Word) String() string {
	return fmt.Sprintf("%#08x", uint32(w))
}

// Frame identifies a physical page frame by index. Frame 0 is a legitimate frame; InvalidFrame
// marks the absence of one.
type Frame uint32

// InvalidFrame is returned where no frame is mapped or available.
const InvalidFrame Frame = ^Frame(0)

func (f Frame) String() string {
	if f == InvalidFrame {
		return "frame(none)"
	}

	return fmt.Sprintf("frame(%d)", uint32(f))
}

// Prot is a protection bit-mask for a page-table entry.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec

	ProtReadWrite   = ProtRead | ProtWrite
	ProtReadExecute = ProtRead | ProtExec
	ProtNone        = Prot(0)
)

func (p Prot) String() string {
	r, w, x := '-', '-', '-'

	if p&ProtRead != 0 {
		r = 'R'
	}

	if p&ProtWrite != 0 {
		w = 'W'
	}

	if p&ProtExec != 0 {
		x = 'X'
	}

	return fmt.Sprintf("%c%c%c", r, w, x)
}

// PTE is a single page-table entry: a valid bit, protection bits, and the physical frame it maps
// to.
type PTE struct {
	Valid bool
	Prot  Prot
	PFN   Frame
}

func (e PTE) String() string {
	if !e.Valid {
		return "pte(invalid)"
	}

	return fmt.Sprintf("pte(%s %s)", e.Prot, e.PFN)
}

// Region identifies one of the machine's two virtual address regions.
type Region uint8

const (
	RegionKernel Region = iota // R0
	RegionUser                 // R1
)

func (r Region) String() string {
	if r == RegionKernel {
		return "R0"
	}

	return "R1"
}
