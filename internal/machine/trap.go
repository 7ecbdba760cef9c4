package machine

// trap.go is the trap vector: a fixed table of slots the machine dispatches hardware events
// through. The kernel installs a handler per slot during boot; the vector itself knows nothing
// about what a handler does.

import "fmt"

// TrapSlot identifies one of the machine's fixed trap-vector entries.
type TrapSlot int

const (
	TrapKernel TrapSlot = iota
	TrapClock
	TrapMemory
	TrapIllegal
	TrapMath
	TrapTTYReceive
	TrapTTYTransmit
	TrapDisk

	numTrapSlots
)

func (s TrapSlot) String() string {
	switch s {
	case TrapKernel:
		return "TRAP_KERNEL"
	case TrapClock:
		return "TRAP_CLOCK"
	case TrapMemory:
		return "TRAP_MEMORY"
	case TrapIllegal:
		return "TRAP_ILLEGAL"
	case TrapMath:
		return "TRAP_MATH"
	case TrapTTYReceive:
		return "TRAP_TTY_RECEIVE"
	case TrapTTYTransmit:
		return "TRAP_TTY_TRANSMIT"
	case TrapDisk:
		return "TRAP_DISK"
	default:
		return fmt.Sprintf("TRAP(%d)", int(s))
	}
}

// TrapHandler is a function the vector dispatches a trap to. info carries slot-specific data (a
// terminal index for TTY traps, a faulting address for TrapMemory); it is untyped at this layer
// because the vector does not interpret it, only the kernel's installed handler does.
type TrapHandler func(ctx *UserContext, info int)

// TrapVector is the machine's trap dispatch table, installed once at boot.
type TrapVector struct {
	handlers [numTrapSlots]TrapHandler
}

// NewTrapVector creates an empty trap vector.
func NewTrapVector() *TrapVector {
	return &TrapVector{}
}

// Install registers a handler for a slot. A nil handler is valid and clears the slot.
func (v *TrapVector) Install(slot TrapSlot, h TrapHandler) {
	v.handlers[slot] = h
}

// Dispatch invokes the handler installed for a slot. An unhandled slot is reported to the
// fallback handler installed at TrapIllegal, matching the "unknown vectors fall through" rule.
func (v *TrapVector) Dispatch(slot TrapSlot, ctx *UserContext, info int) {
	h := v.handlers[slot]
	if h == nil {
		h = v.handlers[TrapIllegal]
	}

	if h != nil {
		h(ctx, info)
	}
}
