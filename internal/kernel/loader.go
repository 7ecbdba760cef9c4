package kernel

// loader.go loads a program image into a PCB's R1 address space: header parsing, segment
// placement, and the initial user stack build. Grounded on original_source/kernel.c's
// LoadProgram and original_source/load_info.h's executable header layout (spec §4.E). The
// executable file format itself and its loader-header on-disk encoding are out of scope; this
// file consumes an already-parsed Header plus an io.ReaderAt positioned over the segment bytes.

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/smoynes/yalnix/internal/encoding"
	"github.com/smoynes/yalnix/internal/log"
	"github.com/smoynes/yalnix/internal/machine"
)

// Header describes a parsed executable's segment layout, in pages. All fields are pages relative
// to the start of R1 unless noted. Parsing the on-disk header format itself is out of scope; this
// struct is what a loader-header parser produces.
type Header struct {
	EntryAddr machine.Word // R1 virtual address of the entry point.

	TextStartPage int
	TextPages     int
	DataStartPage int
	DataPages     int

	// TextSize/DataSize are the exact byte lengths to read for each segment; the remainder of
	// the last partial page is left unread (BSS bytes beyond DataSize are zeroed in step 8).
	TextSize int64
	DataSize int64
}

// magicYalnixExe is the loader header's magic number, kept here only so a caller parsing a raw
// header can sanity-check it; this package does not itself decode the on-disk header.
const magicYalnixExe uint32 = 0x0a11ab1e

// Load implements the program-loader steps of spec §4.E against an already-open, already-parsed
// executable. text and data are readers positioned at the start of their respective segments in
// the file; argv is the argument vector to install on the new stack.
func (k *Loader) Load(p *PCB, hdr *Header, text, data io.ReaderAt, argv []string) error {
	if err := k.validate(hdr); err != nil {
		return err
	}

	stackPages := stackPagesFor(argv)
	guardPage := GuardPages

	lastUsed := hdr.DataStartPage + hdr.DataPages
	required := lastUsed + stackPages + guardPage

	if required > p.R1.Len() {
		return opErr("load", ErrNotLoadable)
	}

	// Step 3: stage argv bytes before anything in R1 is touched, since step 4 wipes R1 and argv
	// may point into the very segment being replaced (re-exec of the running image).
	staged := stageArgv(argv)

	// Step 4: free every valid PTE currently in the target's R1.
	for page := 0; page < p.R1.Len(); page++ {
		if f := p.R1.Unmap(page); f != machine.InvalidFrame {
			k.frames.Free(f)
		}
	}

	stackFloor := p.R1.Len() - stackPages

	allocated, err := k.allocateSegments(p, hdr, stackFloor)
	if err != nil {
		return err
	}

	// Step 6: read text then data directly into their mapped R1 virtual addresses. A read
	// failure here frees the pages mapped in step 5 and reports ErrUnrecoverableLoad: the old
	// image is already gone, so the caller must kill the process.
	if err := k.readSegment(p, hdr.TextStartPage, hdr.TextSize, text); err != nil {
		k.freeAll(p, allocated)
		return opErr("load", ErrUnrecoverableLoad)
	}

	k.dumpSegment(p, hdr.TextStartPage, hdr.TextSize)

	if err := k.readSegment(p, hdr.DataStartPage, hdr.DataSize, data); err != nil {
		k.freeAll(p, allocated)
		return opErr("load", ErrUnrecoverableLoad)
	}

	k.dumpSegment(p, hdr.DataStartPage, hdr.DataSize)

	// Step 7: retighten text to R+X.
	for page := hdr.TextStartPage; page < hdr.TextStartPage+hdr.TextPages; page++ {
		if err := p.R1.Reprotect(page, machine.ProtReadExecute); err != nil {
			return err
		}
	}

	k.m.TLB.FlushR1()

	// Step 8: zero BSS -- the tail of the data segment beyond DataSize.
	if err := k.zeroBSS(p, hdr); err != nil {
		return err
	}

	// Step 9: build the initial stack.
	sp, err := k.buildStack(p, stackFloor, staged)
	if err != nil {
		return err
	}

	p.UserCtx = machine.UserContext{PC: hdr.EntryAddr, SP: sp}
	p.Brk = machine.Word(lastUsed * machine.PageSize)

	return nil
}

// Loader bundles the machine and frame allocator a load needs.
type Loader struct {
	m      *machine.Machine
	frames *FrameAllocator
	as     *AddrSpace
	log    *log.Logger
}

// NewLoader creates a program loader.
func NewLoader(m *machine.Machine, frames *FrameAllocator, as *AddrSpace, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return &Loader{m: m, frames: frames, as: as, log: logger}
}

// dumpSegment logs a hex dump of a just-loaded segment at debug level, walking the scratch page
// over the segment's frames the same way readSegment does. The dump itself is only rendered when
// debug logging is enabled, since it touches every byte of the segment a second time.
func (k *Loader) dumpSegment(p *PCB, startPage int, size int64) {
	if size <= 0 || !k.log.Enabled(context.Background(), log.Debug) {
		return
	}

	buf := make([]byte, size)

	var off int64

	page := startPage

	for off < size {
		pte, ok := p.R1.Lookup(page)
		if !ok || !pte.Valid {
			return
		}

		n := machine.PageSize
		if remaining := size - off; remaining < int64(n) {
			n = int(remaining)
		}

		chunkOff := off

		if err := k.as.MapScratch(pte.PFN, func(view []byte) {
			copy(buf[chunkOff:chunkOff+int64(n)], view[:n])
		}); err != nil {
			return
		}

		off += int64(n)
		page++
	}

	k.log.Debug("load: segment", "page", startPage, "bytes", size,
		"hex", encoding.DumpSegment(startPage*machine.PageSize, buf))
}

func (k *Loader) validate(hdr *Header) error {
	if hdr.TextStartPage < 0 || hdr.DataStartPage < hdr.TextStartPage+hdr.TextPages {
		return opErr("load", ErrNotLoadable)
	}

	entryPage := int(hdr.EntryAddr) / machine.PageSize
	if entryPage < hdr.TextStartPage || entryPage >= hdr.TextStartPage+hdr.TextPages {
		return opErr("load", ErrNotLoadable)
	}

	return nil
}

// allocateSegments maps R+W frames for text, data, and the stack region (step 5). On any
// allocation failure, every frame mapped within this call is freed and the call returns an
// ErrNoMemory error, per the rollback rule in spec §4.E.
func (k *Loader) allocateSegments(p *PCB, hdr *Header, stackFloor int) ([]int, error) {
	var allocated []int

	mapRange := func(start, count int) error {
		for page := start; page < start+count; page++ {
			f, ok := k.frames.Alloc()
			if !ok {
				return opErr("load", ErrNoMemory)
			}

			if err := p.R1.Map(page, f, machine.ProtReadWrite); err != nil {
				k.frames.Free(f)
				return err
			}

			allocated = append(allocated, page)
		}

		return nil
	}

	if err := mapRange(hdr.TextStartPage, hdr.TextPages); err != nil {
		k.freeAll(p, allocated)
		return nil, err
	}

	if err := mapRange(hdr.DataStartPage, hdr.DataPages); err != nil {
		k.freeAll(p, allocated)
		return nil, err
	}

	if err := mapRange(stackFloor, p.R1.Len()-stackFloor); err != nil {
		k.freeAll(p, allocated)
		return nil, err
	}

	k.m.TLB.FlushR1()

	return allocated, nil
}

func (k *Loader) freeAll(p *PCB, pages []int) {
	for _, page := range pages {
		if f := p.R1.Unmap(page); f != machine.InvalidFrame {
			k.frames.Free(f)
		}
	}
}

// readSegment reads exactly size bytes from r into p's R1 starting at startPage, one frame at a
// time via the scratch page (the loading process is not necessarily the current process, so R1
// addresses of p are not directly addressable from kernel mode).
func (k *Loader) readSegment(p *PCB, startPage int, size int64, r io.ReaderAt) error {
	var off int64

	page := startPage

	for off < size {
		pte, ok := p.R1.Lookup(page)
		if !ok || !pte.Valid {
			return opErr("load", ErrUnrecoverableLoad)
		}

		n := machine.PageSize
		if remaining := size - off; remaining < int64(n) {
			n = int(remaining)
		}

		var readErr error

		err := k.as.MapScratch(pte.PFN, func(view []byte) {
			_, readErr = r.ReadAt(view[:n], off)
		})
		if err != nil {
			return err
		}

		if readErr != nil && readErr != io.EOF {
			return opErr("load", ErrUnrecoverableLoad)
		}

		off += int64(n)
		page++
	}

	return nil
}

func (k *Loader) zeroBSS(p *PCB, hdr *Header) error {
	dataEndByte := hdr.DataStartPage*machine.PageSize + int(hdr.DataSize)
	segmentEndByte := (hdr.DataStartPage + hdr.DataPages) * machine.PageSize

	for addr := dataEndByte; addr < segmentEndByte; {
		page := addr / machine.PageSize
		pageStart := page * machine.PageSize
		offInPage := addr - pageStart

		pte, ok := p.R1.Lookup(page)
		if !ok || !pte.Valid {
			return opErr("load", ErrUnrecoverableLoad)
		}

		if err := k.as.MapScratch(pte.PFN, func(view []byte) {
			for i := offInPage; i < len(view); i++ {
				view[i] = 0
			}
		}); err != nil {
			return err
		}

		addr = pageStart + machine.PageSize
	}

	return nil
}

// stagedArgv is a kernel-side copy of the argument vector, staged before R1 is destroyed (step
// 3).
type stagedArgv struct {
	strs [][]byte
}

func stageArgv(argv []string) stagedArgv {
	strs := make([][]byte, len(argv))

	for i, s := range argv {
		b := make([]byte, len(s)+1) // NUL-terminated
		copy(b, s)
		strs[i] = b
	}

	return stagedArgv{strs: strs}
}

// stackPagesFor estimates the pages needed for argv strings, the pointer array, argc, and the
// initial-stack-frame reservation, rounded up.
func stackPagesFor(argv []string) int {
	total := InitialStackFrameSize + 8 // argc + alignment pad

	for _, s := range argv {
		total += len(s) + 1
	}

	total += (len(argv) + 1) * 4 // argv pointer array, NULL-terminated

	pages := (total + machine.PageSize - 1) / machine.PageSize
	if pages < 1 {
		pages = 1
	}

	return pages
}

// buildStack lays out argv strings at the top of the stack region, then the argv pointer array,
// then argc, double-word aligned, leaving InitialStackFrameSize bytes above SP (step 9). It
// returns the resulting user stack pointer.
func (k *Loader) buildStack(p *PCB, stackFloor int, argv stagedArgv) (machine.Word, error) {
	top := p.R1.Len() * machine.PageSize

	// Compute string bytes and their placement from the top down.
	strAddrs := make([]machine.Word, len(argv.strs))
	cursor := top

	for i := len(argv.strs) - 1; i >= 0; i-- {
		cursor -= len(argv.strs[i])
		strAddrs[i] = machine.Word(cursor)
	}

	ptrArrayBytes := (len(argv.strs) + 1) * 4
	cursor -= ptrArrayBytes
	ptrArrayAddr := cursor

	cursor -= 4 // argc
	argcAddr := cursor

	cursor &^= 7 // double-word align

	cursor -= InitialStackFrameSize

	if cursor/machine.PageSize < stackFloor {
		return 0, opErr("load", ErrNotLoadable)
	}

	write := func(addr int, b []byte) error {
		return k.writeBytes(p, addr, b)
	}

	for i, s := range argv.strs {
		if err := write(int(strAddrs[i]), s); err != nil {
			return 0, err
		}
	}

	ptrs := make([]byte, ptrArrayBytes)

	for i, a := range strAddrs {
		binary.LittleEndian.PutUint32(ptrs[i*4:], uint32(a))
	}
	// final 4 bytes already zero: NULL terminator

	if err := write(ptrArrayAddr, ptrs); err != nil {
		return 0, err
	}

	argcBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(argcBytes, uint32(len(argv.strs)))

	if err := write(argcAddr, argcBytes); err != nil {
		return 0, err
	}

	return machine.Word(cursor), nil
}

// writeBytes writes b into p's R1 starting at byte address addr, which may span a page boundary.
func (k *Loader) writeBytes(p *PCB, addr int, b []byte) error {
	written := 0

	for written < len(b) {
		page := (addr + written) / machine.PageSize
		offInPage := (addr + written) % machine.PageSize

		pte, ok := p.R1.Lookup(page)
		if !ok || !pte.Valid {
			return opErr("load", ErrUnrecoverableLoad)
		}

		n := machine.PageSize - offInPage
		if remaining := len(b) - written; remaining < n {
			n = remaining
		}

		chunk := b[written : written+n]

		if err := k.as.MapScratch(pte.PFN, func(view []byte) {
			copy(view[offInPage:], chunk)
		}); err != nil {
			return err
		}

		written += n
	}

	return nil
}
