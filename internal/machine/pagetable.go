package machine

// pagetable.go holds the software page table the kernel loads into the PTBR/PTLR register pair.

import "fmt"

// PageTable is a software-loaded, linear page table for one region of the address space. Index i
// translates virtual page i of the region.
type PageTable struct {
	Pages []PTE
}

// NewPageTable creates an all-invalid page table of the given length, in pages.
func NewPageTable(pages int) *PageTable {
	return &PageTable{Pages: make([]PTE, pages)}
}

// Len returns the page-table length register value: the number of pages it translates.
func (pt *PageTable) Len() int {
	return len(pt.Pages)
}

// Lookup returns the entry for a page number and whether it is valid.
func (pt *PageTable) Lookup(page int) (PTE, bool) {
	if page < 0 || page >= len(pt.Pages) {
		return PTE{}, false
	}

	e := pt.Pages[page]

	return e, e.Valid
}

// Map installs a valid mapping for a page.
func (pt *PageTable) Map(page int, frame Frame, prot Prot) error {
	if page < 0 || page >= len(pt.Pages) {
		return fmt.Errorf("%w: page %d", ErrBadAddr, page)
	}

	pt.Pages[page] = PTE{Valid: true, Prot: prot, PFN: frame}

	return nil
}

// Unmap invalidates a page's entry, returning the frame that had been mapped (or InvalidFrame).
func (pt *PageTable) Unmap(page int) Frame {
	if page < 0 || page >= len(pt.Pages) {
		return InvalidFrame
	}

	e := pt.Pages[page]
	pt.Pages[page] = PTE{}

	if !e.Valid {
		return InvalidFrame
	}

	return e.PFN
}

// Reprotect changes the protection bits of an already-valid entry without touching its frame.
func (pt *PageTable) Reprotect(page int, prot Prot) error {
	if page < 0 || page >= len(pt.Pages) {
		return fmt.Errorf("%w: page %d", ErrBadAddr, page)
	}

	if !pt.Pages[page].Valid {
		return fmt.Errorf("%w: page %d not mapped", ErrBadAddr, page)
	}

	pt.Pages[page].Prot = prot

	return nil
}

// ErrBadAddr is returned for out-of-range page numbers.
var ErrBadAddr = fmt.Errorf("machine: address out of range")
