package machine

// tlb.go is a selective-flush translation look-aside buffer. Because page tables are
// software-loaded, every mutation to a PTE must be followed by the right flush or the TLB will
// keep translating through a stale entry.

// TLB caches recent Region/page -> Frame translations.
type TLB struct {
	r0     map[int]Frame
	r1     map[int]Frame
	kstack map[int]Frame
}

// NewTLB creates an empty TLB.
func NewTLB() *TLB {
	return &TLB{
		r0:     make(map[int]Frame),
		r1:     make(map[int]Frame),
		kstack: make(map[int]Frame),
	}
}

// Fill records a translation as cached.
func (t *TLB) Fill(region Region, page int, frame Frame) {
	switch region {
	case RegionKernel:
		t.r0[page] = frame
	case RegionUser:
		t.r1[page] = frame
	}
}

// FillKStack records a kernel-stack page translation, kept distinct from the rest of R0 so a
// FlushKStack can invalidate only the pages that change across a context switch.
func (t *TLB) FillKStack(page int, frame Frame) {
	t.kstack[page] = frame
}

// Lookup returns a cached translation, if any.
func (t *TLB) Lookup(region Region, page int) (Frame, bool) {
	var m map[int]Frame

	switch region {
	case RegionKernel:
		m = t.r0
	case RegionUser:
		m = t.r1
	}

	if f, ok := t.kstack[page]; ok && region == RegionKernel {
		return f, ok
	}

	f, ok := m[page]

	return f, ok
}

// FlushAll invalidates every cached translation. Corresponds to the TLB_FLUSH_ALL sentinel.
func (t *TLB) FlushAll() {
	t.r0 = make(map[int]Frame)
	t.r1 = make(map[int]Frame)
	t.kstack = make(map[int]Frame)
}

// FlushR0 invalidates R0 translations other than the kernel-stack pages. Corresponds to
// TLB_FLUSH_0.
func (t *TLB) FlushR0() {
	t.r0 = make(map[int]Frame)
}

// FlushR1 invalidates R1 translations. Corresponds to TLB_FLUSH_1.
func (t *TLB) FlushR1() {
	t.r1 = make(map[int]Frame)
}

// FlushKStack invalidates only the kernel-stack pages. Corresponds to TLB_FLUSH_KSTACK.
func (t *TLB) FlushKStack() {
	t.kstack = make(map[int]Frame)
}

// FlushAddr invalidates the translation for a single page. Corresponds to passing a specific
// virtual address to TLB_FLUSH.
func (t *TLB) FlushAddr(region Region, page int) {
	switch region {
	case RegionKernel:
		delete(t.r0, page)
		delete(t.kstack, page)
	case RegionUser:
		delete(t.r1, page)
	}
}
