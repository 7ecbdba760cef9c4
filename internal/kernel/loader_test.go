package kernel

import (
	"bytes"
	"testing"

	"github.com/smoynes/yalnix/internal/machine"
)

func newTestLoader(t *testing.T) (*Loader, *PCB) {
	t.Helper()

	m := machine.New(256, 1, nil)
	frames := NewFrameAllocator(m.NumFrames(), nil)
	as := NewAddrSpace(m, frames, 0, 64, nil)
	as.IdentityMap(16, machine.ProtReadWrite)

	p := NewPCB(1)

	return NewLoader(m, frames, as, nil), p
}

func TestLoadBasicProgram(t *testing.T) {
	ld, p := newTestLoader(t)

	text := bytes.Repeat([]byte{0x01}, machine.PageSize)
	data := bytes.Repeat([]byte{0x02}, 16)

	hdr := &Header{
		EntryAddr:     0,
		TextStartPage: 0,
		TextPages:     1,
		DataStartPage: 1,
		DataPages:     1,
		TextSize:      int64(len(text)),
		DataSize:      int64(len(data)),
	}

	if err := ld.Load(p, hdr, bytes.NewReader(text), bytes.NewReader(data), []string{"prog", "arg1"}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	textPTE, ok := p.R1.Lookup(0)
	if !ok || !textPTE.Valid || textPTE.Prot != machine.ProtReadExecute {
		t.Fatalf("text page not R+X after load: %+v", textPTE)
	}

	dataPTE, ok := p.R1.Lookup(1)
	if !ok || !dataPTE.Valid || dataPTE.Prot != machine.ProtReadWrite {
		t.Fatalf("data page not R+W after load: %+v", dataPTE)
	}

	if p.UserCtx.PC != hdr.EntryAddr {
		t.Fatalf("PC = %v, want %v", p.UserCtx.PC, hdr.EntryAddr)
	}

	if p.UserCtx.SP == 0 {
		t.Fatal("SP not set")
	}

	wantBrk := machine.Word(2 * machine.PageSize)
	if p.Brk != wantBrk {
		t.Fatalf("Brk = %v, want %v", p.Brk, wantBrk)
	}
}

func TestLoadRejectsEntryOutsideText(t *testing.T) {
	ld, p := newTestLoader(t)

	hdr := &Header{
		EntryAddr:     machine.Word(10 * machine.PageSize),
		TextStartPage: 0,
		TextPages:     1,
		DataStartPage: 1,
		DataPages:     1,
	}

	err := ld.Load(p, hdr, bytes.NewReader(nil), bytes.NewReader(nil), nil)
	if err == nil {
		t.Fatal("expected error for out-of-range entry point")
	}
}

func TestLoadRejectsOversizedImage(t *testing.T) {
	ld, p := newTestLoader(t)

	hdr := &Header{
		EntryAddr:     0,
		TextStartPage: 0,
		TextPages:     1,
		DataStartPage: 1,
		DataPages:     p.R1.Len(), // leaves no room for stack + guard page
	}

	err := ld.Load(p, hdr, bytes.NewReader(nil), bytes.NewReader(nil), nil)
	if err == nil {
		t.Fatal("expected NOT_LOADABLE for oversized image")
	}
}

func TestLoadFreesOldImageBeforeReload(t *testing.T) {
	ld, p := newTestLoader(t)

	text := bytes.Repeat([]byte{0xaa}, machine.PageSize)

	hdr := &Header{
		EntryAddr:     0,
		TextStartPage: 0,
		TextPages:     1,
		DataStartPage: 1,
		DataPages:     1,
	}

	if err := ld.Load(p, hdr, bytes.NewReader(text), bytes.NewReader(nil), nil); err != nil {
		t.Fatalf("first load: %v", err)
	}

	usedAfterFirst := ld.frames.Used()

	if err := ld.Load(p, hdr, bytes.NewReader(text), bytes.NewReader(nil), nil); err != nil {
		t.Fatalf("second load: %v", err)
	}

	if ld.frames.Used() != usedAfterFirst {
		t.Fatalf("frame usage changed across reload: %d vs %d, want equal (old image freed)",
			ld.frames.Used(), usedAfterFirst)
	}
}
