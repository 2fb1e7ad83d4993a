package apic

import "nucleus/internal/kerr"

// vectorCount is the number of IRQ-range IDT slots available for
// allocation: 128-255 (spec §4.5/§4.4).
const (
	vectorBase  = 128
	vectorCount = 256 - vectorBase
)

// VectorAllocator tracks which of the 128 IRQ vectors are in use and
// remembers the GSI each legacy IRQ was last bound to, so
// UnregisterLegacyIRQ can find its way back to the right IO-APIC entry.
type VectorAllocator struct {
	used       [2]uint64 // 128-bit bitmap, one bit per vector 128-255
	legacyGSI  map[uint8]uint32
	legacyVec  map[uint8]uint8
}

// NewVectorAllocator returns an allocator with every vector free.
func NewVectorAllocator() *VectorAllocator {
	return &VectorAllocator{
		legacyGSI: make(map[uint8]uint32),
		legacyVec: make(map[uint8]uint8),
	}
}

func (v *VectorAllocator) test(i uint8) bool {
	return v.used[i/64]&(uint64(1)<<(i%64)) != 0
}

func (v *VectorAllocator) set(i uint8) {
	v.used[i/64] |= uint64(1) << (i % 64)
}

func (v *VectorAllocator) clear(i uint8) {
	v.used[i/64] &^= uint64(1) << (i % 64)
}

// FindAndReserveEntry scans for the lowest free vector in [128,255] and
// marks it used (spec §4.5 "find_and_reserve_entry").
func (v *VectorAllocator) FindAndReserveEntry() (uint8, *kerr.Error) {
	for i := 0; i < vectorCount; i++ {
		idx := uint8(i)
		if !v.test(idx) {
			v.set(idx)
			return vectorBase + idx, nil
		}
	}
	return 0, kerr.ErrOutOfVectors
}

// Release frees a previously reserved vector.
func (v *VectorAllocator) Release(vector uint8) {
	v.clear(vector - vectorBase)
}

// RegisterLegacyIRQ allocates a vector, routes irq -> gsi -> vector
// through ioapic, and remembers the binding.
func (v *VectorAllocator) RegisterLegacyIRQ(ioapic *IOAPIC, irq uint8, gsi uint32, activeLow, levelTriggered bool) (uint8, *kerr.Error) {
	vector, err := v.FindAndReserveEntry()
	if err != nil {
		return 0, err
	}
	ioapic.RegisterLegacyIRQ(gsi, vector, activeLow, levelTriggered)
	v.legacyGSI[irq] = gsi
	v.legacyVec[irq] = vector
	return vector, nil
}

// UnregisterLegacyIRQ masks irq's IO-APIC redirection entry and frees
// its vector back to the pool (spec §4.5, fixing the bug where the
// original masked nothing).
func (v *VectorAllocator) UnregisterLegacyIRQ(ioapic *IOAPIC, irq uint8) {
	gsi, ok := v.legacyGSI[irq]
	if !ok {
		return
	}
	ioapic.UnregisterLegacyIRQ(gsi)
	v.Release(v.legacyVec[irq])
	delete(v.legacyGSI, irq)
	delete(v.legacyVec, irq)
}
