package machine

import (
	"bytes"
	"errors"
	"testing"
)

func TestPageTableMapUnmap(tt *testing.T) {
	pt := NewPageTable(4)

	if _, valid := pt.Lookup(0); valid {
		tt.Fatalf("page 0 should start invalid")
	}

	if err := pt.Map(1, Frame(7), ProtReadWrite); err != nil {
		tt.Fatalf("map: %s", err)
	}

	pte, valid := pt.Lookup(1)
	if !valid || pte.PFN != Frame(7) || pte.Prot != ProtReadWrite {
		tt.Fatalf("lookup: got %#v", pte)
	}

	if err := pt.Reprotect(1, ProtReadExecute); err != nil {
		tt.Fatalf("reprotect: %s", err)
	}

	pte, _ = pt.Lookup(1)
	if pte.Prot != ProtReadExecute {
		tt.Fatalf("reprotect did not stick: %s", pte.Prot)
	}

	if f := pt.Unmap(1); f != Frame(7) {
		tt.Fatalf("unmap: got %s, want frame(7)", f)
	}

	if _, valid := pt.Lookup(1); valid {
		tt.Fatalf("page 1 should be invalid after unmap")
	}

	if err := pt.Map(99, Frame(0), ProtRead); !errors.Is(err, ErrBadAddr) {
		tt.Fatalf("out-of-range map: got %v, want ErrBadAddr", err)
	}
}

func TestTLBFlushGranularity(tt *testing.T) {
	tlb := NewTLB()

	tlb.Fill(RegionUser, 3, Frame(10))
	tlb.Fill(RegionKernel, 5, Frame(20))
	tlb.FillKStack(6, Frame(30))

	if _, ok := tlb.Lookup(RegionUser, 3); !ok {
		tt.Fatalf("expected R1 page 3 cached")
	}

	tlb.FlushR1()

	if _, ok := tlb.Lookup(RegionUser, 3); ok {
		tt.Fatalf("FlushR1 should have evicted R1 entries")
	}

	if _, ok := tlb.Lookup(RegionKernel, 5); !ok {
		tt.Fatalf("FlushR1 should not evict R0 entries")
	}

	tlb.FlushKStack()

	if _, ok := tlb.Lookup(RegionKernel, 6); ok {
		tt.Fatalf("FlushKStack should have evicted the kstack entry")
	}

	if _, ok := tlb.Lookup(RegionKernel, 5); !ok {
		tt.Fatalf("FlushKStack should not evict ordinary R0 entries")
	}

	tlb.FlushAll()

	if _, ok := tlb.Lookup(RegionKernel, 5); ok {
		tt.Fatalf("FlushAll should evict everything")
	}
}

func TestScratchMapUnmap(tt *testing.T) {
	m := New(8, 0, nil)

	if _, mapped := m.ScratchMapped(); mapped {
		tt.Fatalf("scratch should start unmapped")
	}

	view, err := m.MapScratch(Frame(2))
	if err != nil {
		tt.Fatalf("map scratch: %s", err)
	}

	copy(view, []byte("hello"))

	if !bytes.Equal(m.FrameBytes(Frame(2))[:5], []byte("hello")) {
		tt.Fatalf("scratch write did not land in frame 2")
	}

	if _, err := m.MapScratch(Frame(3)); err == nil {
		tt.Fatalf("expected error re-mapping scratch without unmap")
	}

	m.UnmapScratch()

	if _, err := m.MapScratch(Frame(3)); err != nil {
		tt.Fatalf("map scratch after unmap: %s", err)
	}
}

func TestTerminalTransmitChunking(tt *testing.T) {
	var buf bytes.Buffer

	term := NewTerminal(0)
	term.SetOutput(&buf)

	data := bytes.Repeat([]byte{'x'}, TerminalDeviceMaxLen+10)

	n, err := term.Transmit(data)
	if err != nil {
		tt.Fatalf("transmit: %s", err)
	}

	if n != TerminalDeviceMaxLen {
		tt.Fatalf("got %d, want device max %d", n, TerminalDeviceMaxLen)
	}

	if buf.Len() != TerminalDeviceMaxLen {
		tt.Fatalf("buffer has %d bytes, want %d", buf.Len(), TerminalDeviceMaxLen)
	}
}

func TestTrapVectorFallback(tt *testing.T) {
	v := NewTrapVector()

	var got TrapSlot = -1

	v.Install(TrapIllegal, func(ctx *UserContext, info int) {
		got = TrapIllegal
	})

	v.Dispatch(TrapMath, &UserContext{}, 0)

	if got != TrapIllegal {
		tt.Fatalf("unhandled slot should fall through to TrapIllegal handler")
	}
}
