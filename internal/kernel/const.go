package kernel

// const.go collects the kernel's policy constants: sizes and layout decisions that are this
// implementation's choice, as distinct from the hardware constants (page size, device chunk size)
// that live in package machine.

const (
	// NumR1Pages is the fixed length of every process's user (R1) page table.
	NumR1Pages = 256

	// KStackPages is the number of pages in a process's kernel stack.
	KStackPages = 2

	// NumR0Pages is the length of the shared kernel (R0) page table: enough for the
	// identity-mapped kernel image plus a growable kernel heap, ending just below the
	// kernel-stack window (which is mapped per-process at the top of R0 on every switch).
	NumR0Pages = 128

	// GuardPages is the minimum gap the loader must leave between the top of the stack and
	// the bottom of text+data when laying out a new program.
	GuardPages = 1

	// PipeBufferLen is the fixed capacity, in bytes, of every pipe's circular buffer.
	PipeBufferLen = 256

	// TerminalMaxLine is the size, in bytes, of a terminal's kernel-owned input line buffer.
	TerminalMaxLine = 256

	// InitialStackFrameSize is the number of bytes of headroom the loader reserves above the
	// initial user stack pointer, for the hardware's own use on first entry.
	InitialStackFrameSize = 16

	// notDelaying is the sentinel remaining-delay-ticks value meaning "not delaying".
	notDelaying = -1

	// MaxArgv bounds the number of pointers ReadArgv will follow, so a malformed or malicious
	// argv array (e.g. one missing its NULL terminator) cannot make the kernel loop forever.
	MaxArgv = 64

	// MaxCString bounds how many bytes ReadCString will read looking for a NUL terminator.
	MaxCString = 4 * 4096
)
