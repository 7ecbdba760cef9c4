package kernel

// addrspace.go is the address-space manager: it owns the shared R0 page table, the scratch-page
// protocol for touching a foreign R1 frame from kernel mode, and the stack-growth and
// kernel-heap-growth logic built on top of the frame allocator.

import (
	"encoding/binary"
	"fmt"

	"github.com/smoynes/yalnix/internal/log"
	"github.com/smoynes/yalnix/internal/machine"
)

// AddrSpace manages the machine's page tables: the one shared R0 table and the growth logic that
// applies to it and to each process's R1 table.
type AddrSpace struct {
	m      *machine.Machine
	frames *FrameAllocator

	r0 *machine.PageTable

	// vmEnabled is false until Boot finishes identity-mapping the kernel image; before that,
	// SetKernelBrk only records the target break.
	vmEnabled bool

	// brkPage is the first unmapped R0 page above the kernel's heap -- the kernel break,
	// measured in pages from the start of R0.
	brkPage int

	// kstackBase is the first R0 page reserved for the currently-switched-in process's kernel
	// stack; SetKernelBrk must never grow the break to collide with it.
	kstackBase int

	log *log.Logger
}

// NewAddrSpace creates the address-space manager. origBrkPage is the first free R0 page above the
// identity-mapped kernel image; kstackBase is the first R0 page reserved for kernel stacks.
func NewAddrSpace(m *machine.Machine, frames *FrameAllocator, origBrkPage, kstackBase int, logger *log.Logger) *AddrSpace {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	as := &AddrSpace{
		m:          m,
		frames:     frames,
		r0:         machine.NewPageTable(NumR0Pages),
		brkPage:    origBrkPage,
		kstackBase: kstackBase,
		log:        logger,
	}

	m.PTBR0 = as.r0

	return as
}

// R0 returns the shared kernel page table.
func (as *AddrSpace) R0() *machine.PageTable {
	return as.r0
}

// IdentityMap pins frame==page for every R0 page in [0, n), marking each frame used. Called once
// at boot for the kernel's text and data; the kernel-stack window is not identity-mapped.
func (as *AddrSpace) IdentityMap(pages int, prot machine.Prot) {
	for page := 0; page < pages; page++ {
		frame := machine.Frame(page)

		as.frames.MarkUsed(frame)

		if err := as.r0.Map(page, frame, prot); err != nil {
			panic(err) // boot-time only; a bad page count here is a programming error
		}
	}

	as.m.TLB.FlushR0()
}

// EnableVM marks that address translation is active; after this point SetKernelBrk actually grows
// or shrinks the mapped kernel heap instead of just recording the target.
func (as *AddrSpace) EnableVM() {
	as.vmEnabled = true
}

// MapScratch maps the scratch page to frame f for the duration of fn, unmapping it again
// afterwards even if fn panics. The scratch page is a process-wide critical region: it must be
// mapped and unmapped without any intervening suspension, which holding it only for the lifetime
// of a callback enforces structurally.
func (as *AddrSpace) MapScratch(f machine.Frame, fn func(view []byte)) error {
	view, err := as.m.MapScratch(f)
	if err != nil {
		return err
	}

	defer as.m.UnmapScratch()

	fn(view)

	return nil
}

// CopyForeignFrame copies the contents of src frame into a freshly mapped dst frame, using the
// scratch page for dst since dst is not yet reachable any other way (this is how fork and
// kc_copy duplicate pages: the source is readable directly via FrameBytes because the kernel
// already owns it, the destination needs scratch).
func (as *AddrSpace) CopyForeignFrame(dst, src machine.Frame) error {
	return as.MapScratch(dst, func(view []byte) {
		copy(view, as.m.FrameBytes(src))
	})
}

// ZeroForeignFrame zeroes dst through the scratch page. Used by GrowStack to zero newly mapped
// stack pages before exposing them to user code (an uninitialized stack page could otherwise leak
// another process's old data).
func (as *AddrSpace) ZeroForeignFrame(dst machine.Frame) error {
	return as.MapScratch(dst, func(view []byte) {
		for i := range view {
			view[i] = 0
		}
	})
}

// GrowStack maps pages downward from (and including) targetPage through stackFloor-1 in p's R1
// table, zeroing each new frame first. It is invoked by the memory-fault handler when addr lies
// strictly below the current lowest valid stack page and strictly above the current break. On any
// frame-allocation failure, every frame mapped within this call is freed and unmapped before
// returning -- no partial mapping leaks.
func (as *AddrSpace) GrowStack(p *PCB, targetPage, stackFloor int) error {
	if targetPage >= stackFloor {
		return nil // nothing to do
	}

	mapped := make([]int, 0, stackFloor-targetPage)

	rollback := func() {
		for _, page := range mapped {
			if f := p.R1.Unmap(page); f != machine.InvalidFrame {
				as.frames.Free(f)
			}
		}
	}

	for page := targetPage; page < stackFloor; page++ {
		f, ok := as.frames.Alloc()
		if !ok {
			rollback()
			return opErr("grow_stack", ErrNoMemory)
		}

		if err := as.ZeroForeignFrame(f); err != nil {
			as.frames.Free(f)
			rollback()

			return err
		}

		if err := p.R1.Map(page, f, machine.ProtReadWrite); err != nil {
			as.frames.Free(f)
			rollback()

			return err
		}

		mapped = append(mapped, page)
	}

	as.m.TLB.FlushR1()

	return nil
}

// SetKernelBrk implements kernel-heap growth. Before VM is enabled it only records the target
// break; afterwards it grows or shrinks R0 between the original break and the kernel-stack base,
// allocating or freeing frames page by page. It fails if the new break would collide with the
// kernel-stack window or if physical memory is exhausted.
func (as *AddrSpace) SetKernelBrk(newPage int) error {
	if !as.vmEnabled {
		as.brkPage = newPage
		return nil
	}

	if newPage < 0 || newPage > as.kstackBase {
		return opErr("set_kernel_brk", ErrInvalidArg)
	}

	switch {
	case newPage > as.brkPage:
		grown := make([]int, 0, newPage-as.brkPage)

		for page := as.brkPage; page < newPage; page++ {
			f, ok := as.frames.Alloc()
			if !ok {
				for _, g := range grown {
					if f := as.r0.Unmap(g); f != machine.InvalidFrame {
						as.frames.Free(f)
					}
				}

				return opErr("set_kernel_brk", ErrNoMemory)
			}

			if err := as.r0.Map(page, f, machine.ProtReadWrite); err != nil {
				as.frames.Free(f)
				return fmt.Errorf("set_kernel_brk: %w", err)
			}

			grown = append(grown, page)
		}
	case newPage < as.brkPage:
		for page := newPage; page < as.brkPage; page++ {
			if f := as.r0.Unmap(page); f != machine.InvalidFrame {
				as.frames.Free(f)
			}
		}
	}

	as.brkPage = newPage
	as.m.TLB.FlushR0()

	return nil
}

// BrkPage returns the current kernel break page.
func (as *AddrSpace) BrkPage() int {
	return as.brkPage
}

// FreeAddressSpace frees every valid R1 frame and the kernel-stack frames owned by p. Called when
// a PCB is destroyed.
func (as *AddrSpace) FreeAddressSpace(p *PCB) {
	for page := 0; page < p.R1.Len(); page++ {
		if f := p.R1.Unmap(page); f != machine.InvalidFrame {
			as.frames.Free(f)
		}
	}

	if p.KStackValid {
		for _, f := range p.KStack {
			as.frames.Free(f)
		}

		p.KStackValid = false
	}

	as.m.TLB.FlushR1()
}

// ValidateRange reports whether the n-byte range starting at addr lies entirely within p's valid
// R1 mappings. Every pointer and buffer a syscall accepts from user mode must pass this check
// before the kernel touches it; a violation is BAD_ACCESS and the caller must be killed.
func (as *AddrSpace) ValidateRange(p *PCB, addr machine.Word, n int) error {
	if n == 0 {
		return nil
	}

	if n < 0 {
		return opErr("validate_range", ErrBadAccess)
	}

	start := int(addr)
	last := start + n - 1

	for page := start / machine.PageSize; page <= last/machine.PageSize; page++ {
		pte, ok := p.R1.Lookup(page)
		if !ok || !pte.Valid {
			return opErr("validate_range", ErrBadAccess)
		}
	}

	return nil
}

// CopyIn validates and copies n bytes out of p's R1 starting at addr into a fresh kernel-owned
// slice, walking the scratch page one chunk per page the range touches (the same pattern Loader's
// writeBytes uses in reverse).
func (as *AddrSpace) CopyIn(p *PCB, addr machine.Word, n int) ([]byte, error) {
	if err := as.ValidateRange(p, addr, n); err != nil {
		return nil, err
	}

	out := make([]byte, n)
	done := 0

	for done < n {
		page := (int(addr) + done) / machine.PageSize
		offInPage := (int(addr) + done) % machine.PageSize

		pte, _ := p.R1.Lookup(page)

		chunkLen := machine.PageSize - offInPage
		if remaining := n - done; remaining < chunkLen {
			chunkLen = remaining
		}

		dst := out[done : done+chunkLen]

		if err := as.MapScratch(pte.PFN, func(view []byte) {
			copy(dst, view[offInPage:offInPage+chunkLen])
		}); err != nil {
			return nil, err
		}

		done += chunkLen
	}

	return out, nil
}

// CopyOut validates and copies data into p's R1 starting at addr.
func (as *AddrSpace) CopyOut(p *PCB, addr machine.Word, data []byte) error {
	if err := as.ValidateRange(p, addr, len(data)); err != nil {
		return err
	}

	done := 0

	for done < len(data) {
		page := (int(addr) + done) / machine.PageSize
		offInPage := (int(addr) + done) % machine.PageSize

		pte, _ := p.R1.Lookup(page)

		chunkLen := machine.PageSize - offInPage
		if remaining := len(data) - done; remaining < chunkLen {
			chunkLen = remaining
		}

		chunk := data[done : done+chunkLen]

		if err := as.MapScratch(pte.PFN, func(view []byte) {
			copy(view[offInPage:offInPage+chunkLen], chunk)
		}); err != nil {
			return err
		}

		done += chunkLen
	}

	return nil
}

// ReadCString reads a NUL-terminated string out of p's R1 starting at addr, one page at a time,
// failing with BAD_ACCESS if it runs off the end of a valid mapping or past MaxCString without
// finding a terminator -- grounded on original_source/test/mallicious.c's unterminated-string
// attack against exec().
func (as *AddrSpace) ReadCString(p *PCB, addr machine.Word) (string, error) {
	var out []byte

	for len(out) < MaxCString {
		page := (int(addr) + len(out)) / machine.PageSize
		offInPage := (int(addr) + len(out)) % machine.PageSize

		pte, ok := p.R1.Lookup(page)
		if !ok || !pte.Valid {
			return "", opErr("read_cstring", ErrBadAccess)
		}

		chunkLen := machine.PageSize - offInPage
		terminated := false

		if err := as.MapScratch(pte.PFN, func(view []byte) {
			for _, b := range view[offInPage : offInPage+chunkLen] {
				if b == 0 {
					terminated = true
					break
				}

				out = append(out, b)
			}
		}); err != nil {
			return "", err
		}

		if terminated {
			return string(out), nil
		}
	}

	return "", opErr("read_cstring", ErrBadAccess)
}

// ReadArgv reads a NUL-terminated array of little-endian word pointers at addr, each pointing to a
// NUL-terminated string -- the same wire format Loader's buildStack writes, so a real exec() trap
// can decode what a previous exec (or the initial boot load) encoded.
func (as *AddrSpace) ReadArgv(p *PCB, addr machine.Word) ([]string, error) {
	var argv []string

	for i := 0; i < MaxArgv; i++ {
		ptrBytes, err := as.CopyIn(p, addr+machine.Word(i*4), 4)
		if err != nil {
			return nil, err
		}

		ptr := binary.LittleEndian.Uint32(ptrBytes)
		if ptr == 0 {
			return argv, nil
		}

		s, err := as.ReadCString(p, machine.Word(ptr))
		if err != nil {
			return nil, err
		}

		argv = append(argv, s)
	}

	return nil, opErr("read_argv", ErrInvalidArg)
}
