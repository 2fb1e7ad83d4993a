// Package apic implements the Local APIC, IO-APIC, ACPI MADT parsing,
// and the interrupt vector allocator that reserves IDT slots 128-255
// for hardware IRQs (spec §4.5, §3 "ACPI MADT").
package apic

import "nucleus/internal/kerr"

// LAPIC register offsets, relative to the LAPIC MMIO base (spec §4.5).
const (
	regSpuriousVector = 0xF0
	regEOI            = 0xB0
	regLVTTimer       = 0x320
	regTimerInitCount = 0x380
	regTimerCurCount  = 0x390
	regTimerDivide    = 0x3E0

	lvtMasked     = 1 << 16
	lvtTimerPeriodic = 1 << 17
)

// MMIO is the minimal read/write interface the APIC code needs onto
// its memory-mapped register window; internal/mem.KernelMapper.MapMMIO
// supplies the backing mapping and the caller hands this package a thin
// view over it.
type MMIO interface {
	Read32(offset uintptr) uint32
	Write32(offset uintptr, value uint32)
}

// LocalAPIC drives one CPU's Local APIC (spec §4.5): it owns the
// calibration ratio computed once at boot (numerator/denominator ticks
// per millisecond) used to translate a millisecond count into a timer
// countdown value, the spurious-vector register, and end-of-interrupt
// signaling.
type LocalAPIC struct {
	mmio MMIO

	calibNumerator   uint64
	calibDenominator uint64
}

// NewLocalAPIC wires up mmio and enables the APIC by writing the
// spurious interrupt vector register with the enable bit set.
func NewLocalAPIC(mmio MMIO, spuriousVector uint8) *LocalAPIC {
	l := &LocalAPIC{mmio: mmio}
	l.mmio.Write32(regSpuriousVector, uint32(spuriousVector)|0x100)
	return l
}

// EOI signals end-of-interrupt. Must be called exactly once per
// interrupt the common dispatch body handles (spec §4.4).
func (l *LocalAPIC) EOI() {
	l.mmio.Write32(regEOI, 0)
}

// Calibrate records the ratio between a known wall-clock duration (from
// the clock manager's calibration sleep) and the timer ticks counted
// over that duration, so later StartCountdown calls can convert a
// millisecond duration into a tick count (spec §4.5 calibration
// contract).
func (l *LocalAPIC) Calibrate(ticksElapsed uint64, ms uint64) {
	l.calibNumerator = ticksElapsed
	l.calibDenominator = ms
}

// calibrationInitCount is the largest value the 32-bit initial-count
// register holds; BeginCalibration arms it unconditionally so a caller
// can measure elapsed ticks without needing a prior Calibrate call.
const calibrationInitCount = 0xFFFF_FFFF

// BeginCalibration arms the timer at its maximum one-shot count, with
// no dependency on having calibrated before (spec §4.5 calibration
// contract: the APIC timer calibrates itself against whichever backend
// the clock manager already trusts, by comparing ticks consumed to
// that backend's own known-duration sleep).
func (l *LocalAPIC) BeginCalibration() {
	l.mmio.Write32(regTimerDivide, 0x3) // divide by 16
	l.mmio.Write32(regTimerInitCount, calibrationInitCount)
}

// EndCalibration returns the number of ticks consumed since the
// matching BeginCalibration call.
func (l *LocalAPIC) EndCalibration() uint64 {
	remaining := l.mmio.Read32(regTimerCurCount)
	return uint64(calibrationInitCount - remaining)
}

// StartCountdown arms the timer, in one-shot mode, to fire after ms
// milliseconds, using the ratio from the last Calibrate call.
func (l *LocalAPIC) StartCountdown(vector uint8, ms uint64) *kerr.Error {
	if l.calibDenominator == 0 {
		return kerr.New("apic", "timer not calibrated")
	}
	ticks := (l.calibNumerator * ms) / l.calibDenominator
	l.mmio.Write32(regTimerDivide, 0x3) // divide by 16
	l.mmio.Write32(regLVTTimer, uint32(vector))
	l.mmio.Write32(regTimerInitCount, uint32(ticks))
	return nil
}

// CountdownRemaining reads the current countdown register.
func (l *LocalAPIC) CountdownRemaining() uint32 {
	return l.mmio.Read32(regTimerCurCount)
}

// CountdownEnded reports whether the one-shot countdown has reached zero.
func (l *LocalAPIC) CountdownEnded() bool {
	return l.mmio.Read32(regTimerCurCount) == 0
}

// StopCountdown masks the timer LVT entry, preventing further firing
// without disturbing the configured vector.
func (l *LocalAPIC) StopCountdown() {
	cur := l.mmio.Read32(regLVTTimer)
	l.mmio.Write32(regLVTTimer, cur|lvtMasked)
	l.mmio.Write32(regTimerInitCount, 0)
}
