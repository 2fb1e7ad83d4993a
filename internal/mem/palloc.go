package mem

import "nucleus/internal/kerr"

// FrameTranslator maps a physical frame address to a virtual address the
// current page table can dereference through. On this core the
// bootloader hands off a full linear (direct) map of physical memory in
// the upper half (Limine's HHDM), so in steady state this is just "+
// offset"; early boot may instead rely on identity mapping. It is
// injected so mem stays free of any assumption about which scheme is
// active, mirroring how the teacher resolves __end via a linker symbol
// rather than hard-coding an address.
type FrameTranslator func(phys uintptr) uintptr

// Invalidator flushes a single virtual address from the TLB (invlpg).
type Invalidator func(virt uintptr)

// PageAllocator is the physical frame allocator and the primitive mapper
// over the *current* page table (spec §3 "Virtual mapper (kernel)",
// §4.1). UserMapper embeds one per process; the kernel keeps exactly one
// for its own root table.
type PageAllocator struct {
	bitmap    *Bitmap
	root      uintptr // physical address of this mapper's PML4
	toVirt    FrameTranslator
	invlpg    Invalidator
}

// NewPageAllocator constructs a page allocator over an existing bitmap and
// page-table root. toVirt and invlpg are architecture hooks; tests supply
// an identity toVirt and a no-op invlpg.
func NewPageAllocator(bitmap *Bitmap, root uintptr, toVirt FrameTranslator, invlpg Invalidator) *PageAllocator {
	return &PageAllocator{bitmap: bitmap, root: root, toVirt: toVirt, invlpg: invlpg}
}

func (a *PageAllocator) Bitmap() *Bitmap { return a.bitmap }
func (a *PageAllocator) Root() uintptr   { return a.root }

func (a *PageAllocator) tableAt(phys uintptr) *Table {
	return (*Table)(ptrFromUintptr(a.toVirt(phys)))
}

// ReservePage allocates one physical frame, returning its address. On
// exhaustion it returns kerr.ErrOutOfMemory (spec §4.1).
func (a *PageAllocator) ReservePage() (uintptr, *kerr.Error) {
	index, ok := a.bitmap.Reserve()
	if !ok {
		return 0, kerr.ErrOutOfMemory
	}
	return uintptr(index) * PageSize, nil
}

// FreePage releases a physical frame previously returned by ReservePage.
// Freeing an address outside the tracked range is a silent no-op.
func (a *PageAllocator) FreePage(addr uintptr) {
	a.bitmap.Free(uint64(addr / PageSize))
}

// zeroFrame zero-fills an entire physical frame through the translator.
func (a *PageAllocator) zeroFrame(phys uintptr) {
	t := a.tableAt(phys)
	for i := range t {
		t[i] = 0
	}
}

// walkLevel descends one level of the hierarchy starting at table
// (physical address), returning the next table's physical address,
// allocating and zero-filling it first if create is true and the slot is
// not present. Parent policy (present|writable|user) is installed on
// creation per spec §4.1.
func (a *PageAllocator) walkLevel(tablePhys uintptr, index int, create bool) (uintptr, *kerr.Error) {
	t := a.tableAt(tablePhys)
	pte := t[index]
	if pte.Present() {
		_, frame := pte.Decode()
		return frame, nil
	}
	if !create {
		return 0, nil
	}
	frame, err := a.ReservePage()
	if err != nil {
		return 0, err
	}
	a.zeroFrame(frame)
	t[index] = Encode(parentFlags, frame)
	return frame, nil
}

// leafTable walks the top three levels for virt, creating missing parent
// tables when create is true, and returns the level-1 (PT) table's
// physical address along with the index of the leaf entry within it.
func (a *PageAllocator) leafTable(virt uintptr, create bool) (tablePhys uintptr, leafIndex int, err *kerr.Error) {
	tablePhys = a.root
	for level := 4; level >= 2; level-- {
		idx := indexForLevel(virt, level)
		next, werr := a.walkLevel(tablePhys, idx, create)
		if werr != nil {
			return 0, 0, werr
		}
		if next == 0 {
			return 0, 0, nil // missing parent, create==false
		}
		tablePhys = next
	}
	return tablePhys, indexForLevel(virt, 1), nil
}

// MapRange installs a mapping for [virt, virt+size) to the physical range
// starting at phys, with the given leaf flags (spec §4.1). The number of
// pages covered is computed from the page-aligned interval using the
// *physical* start combined with the virtual size, per the spec's flagged
// calling convention — callers must pass phys and virt aligned to the
// same offset modulo PageSize.
func (a *PageAllocator) MapRange(phys, virt uintptr, flags Flag, size uintptr) *kerr.Error {
	if !rangeWithinCanonical48(virt, size) {
		return kerr.ErrNonCanonicalRange
	}
	n := pageCount(phys, size)
	p := alignDown(phys)
	v := alignDown(virt)
	leafFlags := (flags & writeableFlagMask) | FlagPresent
	for i := 0; i < n; i++ {
		tablePhys, idx, err := a.leafTable(v, true)
		if err != nil {
			return err
		}
		t := a.tableAt(tablePhys)
		t[idx] = Encode(leafFlags, p)
		a.invlpg(v)
		p += PageSize
		v += PageSize
	}
	return nil
}

// UnmapPage removes the single-page mapping at virt. Returns false if the
// leaf was not present, or if an intermediate huge-page entry makes the
// walk unsupported (spec §4.1). It does not collapse empty parent tables
// — that is UserMapper.UnmapPageRecursive's job.
func (a *PageAllocator) UnmapPage(virt uintptr) bool {
	tablePhys := a.root
	for level := 4; level >= 2; level-- {
		idx := indexForLevel(virt, level)
		t := a.tableAt(tablePhys)
		pte := t[idx]
		if !pte.Present() {
			return false
		}
		if pte.IsHuge() {
			return false // unsupported, fail fast
		}
		_, frame := pte.Decode()
		tablePhys = frame
	}
	idx := indexForLevel(virt, 1)
	t := a.tableAt(tablePhys)
	pte := t[idx]
	if !pte.Present() {
		return false
	}
	_, frame := pte.Decode()
	a.FreePage(frame)
	t[idx] = 0
	a.invlpg(virt)
	return true
}

// ChangeFlags rewrites the leaf flags over [virt, virt+size) without
// touching parent tables. Missing leaves are skipped (spec §4.1: "the
// same walk but leaves parents untouched and rewrites only present
// leaves").
func (a *PageAllocator) ChangeFlags(virt uintptr, flags Flag, size uintptr) *kerr.Error {
	return a.changeFlags(virt, flags, size, false)
}

// ChangeFlagsRelaxing additionally OR-merges writable/user into parent
// entries (spec §4.1). This is the kernel mapper's behavior: parent NX
// bits are never touched here. UserMapper has its own
// ChangeFlagsRelaxing, whose relaxParent also clears parent NX when the
// new leaf flags allow execution.
func (a *PageAllocator) ChangeFlagsRelaxing(virt uintptr, flags Flag, size uintptr) *kerr.Error {
	return a.changeFlags(virt, flags, size, true)
}

func (a *PageAllocator) changeFlags(virt uintptr, flags Flag, size uintptr, relax bool) *kerr.Error {
	if !rangeWithinCanonical48(virt, size) {
		return kerr.ErrNonCanonicalRange
	}
	n := pageCount(virt, size)
	v := alignDown(virt)
	leafFlags := (flags & writeableFlagMask) | FlagPresent
	for i := 0; i < n; i++ {
		tablePhys := a.root
		ok := true
		for level := 4; level >= 2; level-- {
			idx := indexForLevel(v, level)
			t := a.tableAt(tablePhys)
			pte := t[idx]
			if !pte.Present() {
				ok = false
				break
			}
			if relax {
				a.relaxParent(t, idx, flags)
			}
			_, frame := pte.Decode()
			tablePhys = frame
		}
		if ok {
			idx := indexForLevel(v, 1)
			t := a.tableAt(tablePhys)
			if t[idx].Present() {
				_, frame := t[idx].Decode()
				t[idx] = Encode(leafFlags, frame)
				a.invlpg(v)
			}
		}
		v += PageSize
	}
	return nil
}

// relaxParent implements the kernel mapper's relaxation policy: OR-merge
// writable/user, but never touch NX. Per spec §9's flagged ambiguity,
// this asymmetry with UserMapper (which does clear NX) is preserved
// intentionally rather than unified; see DESIGN.md Open Question
// Decisions.
func (a *PageAllocator) relaxParent(t *Table, idx int, leafFlags Flag) {
	pte := t[idx]
	_, frame := pte.Decode()
	merged := Flag(uint64(pte)&^physAddrMask) | (leafFlags & (FlagWritable | FlagUser)) | FlagPresent
	t[idx] = Encode(merged, frame)
}

// CheckFlags reports whether every leaf in [virt, virt+size) is present
// and carries at least the given flags (spec §4.1, used by the
// map_range→check_flags round trip in spec §8 invariant 7).
func (a *PageAllocator) CheckFlags(virt uintptr, size uintptr, flags Flag) bool {
	n := pageCount(virt, size)
	v := alignDown(virt)
	want := (flags & writeableFlagMask) | FlagPresent
	for i := 0; i < n; i++ {
		pte, ok := a.Translate(v)
		if !ok {
			return false
		}
		f, _ := pte.Decode()
		if f&want != want {
			return false
		}
		v += PageSize
	}
	return true
}

// Translate walks the current page table for virt, returning its PTE and
// whether it is present. Returns (_, false) for an unmapped address
// (spec §8 invariant 2).
func (a *PageAllocator) Translate(virt uintptr) (PTE, bool) {
	tablePhys := a.root
	for level := 4; level >= 2; level-- {
		idx := indexForLevel(virt, level)
		t := a.tableAt(tablePhys)
		pte := t[idx]
		if !pte.Present() {
			return 0, false
		}
		if pte.IsHuge() {
			return pte, true
		}
		_, frame := pte.Decode()
		tablePhys = frame
	}
	idx := indexForLevel(virt, 1)
	t := a.tableAt(tablePhys)
	pte := t[idx]
	return pte, pte.Present()
}

// TranslateAddr resolves virt all the way down to a physical byte
// address, honoring the in-page offset (used by §8 scenario 2's
// "translate(0xFEE0_0123) == 0xFEE0_0123" read-back check).
func (a *PageAllocator) TranslateAddr(virt uintptr) (uintptr, bool) {
	pte, ok := a.Translate(virt)
	if !ok {
		return 0, false
	}
	_, frame := pte.Decode()
	return frame + (virt & (PageSize - 1)), true
}

// tempMapSlot is the single reserved virtual address used as a temporary
// mapping window (spec §4.1 temp_map). It lives in the top of the kernel
// half, just below the recursive-mapping region a from-scratch mapper
// would otherwise need.
var tempMapSlot uintptr = 0xFFFF_FF80_0000_0000

// SetTempMapSlot overrides the default temporary-mapping virtual address
// (the tests use it to place the window inside their arena's layout).
func SetTempMapSlot(v uintptr) { tempMapSlot = v }

// TempMap maps phys into the reserved temporary window and returns its
// virtual address. The window holds exactly one mapping at a time; a
// second call replaces the first (callers are expected to finish using
// one temporary mapping before requesting the next, matching the
// teacher's single scratch-page convention for copying between frames).
func (a *PageAllocator) TempMap(phys uintptr) uintptr {
	if err := a.MapRange(alignDown(phys), tempMapSlot, FlagWritable, PageSize); err != nil {
		return 0
	}
	return tempMapSlot + (phys & (PageSize - 1))
}
