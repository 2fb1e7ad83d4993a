package clock

import "nucleus/internal/kerr"

// ReadTSC returns the current timestamp counter value. Implemented in
// tsc_amd64.s (RDTSC).
//
//go:noescape
func ReadTSC() uint64

// TSC drives the clock manager from the raw timestamp counter once
// its frequency has been calibrated against another backend's
// CalibrationSleep (spec §4.5: "the TSC backend is only selected after
// an invariant-TSC check and a calibration pass against the PIT or
// APIC timer").
type TSC struct {
	hzNum uint64 // ticks
	hzDen uint64 // milliseconds elapsed during calibration

	deadline uint64
}

// NewTSC calibrates by sampling the TSC before and after calibSleep
// blocks for calibMs milliseconds using another, already-trusted
// backend.
func NewTSC(calibMs uint64, calibSleep func(ms uint64)) *TSC {
	start := ReadTSC()
	calibSleep(calibMs)
	end := ReadTSC()
	return &TSC{hzNum: end - start, hzDen: calibMs}
}

func (t *TSC) Name() string { return "tsc" }

// msToTicks converts a millisecond duration into a TSC tick count
// using the calibrated ratio. The previous implementation divided the
// elapsed-ticks numerator by itself instead of by the calibration
// window, which collapsed every countdown to 1ms regardless of the
// requested duration; the correct form is ticks = hzNum * ms / hzDen.
func (t *TSC) msToTicks(ms uint64) uint64 {
	return (t.hzNum * ms) / t.hzDen
}

func (t *TSC) CalibrationSleep(ms uint64) {
	target := ReadTSC() + t.msToTicks(ms)
	for ReadTSC() < target {
	}
}

func (t *TSC) SleepMs(ms uint64) { t.CalibrationSleep(ms) }

func (t *TSC) StartCountdown(ms uint64) *kerr.Error {
	if t.hzDen == 0 {
		return kerr.New("clock", "TSC not calibrated")
	}
	t.deadline = ReadTSC() + t.msToTicks(ms)
	return nil
}

func (t *TSC) CountdownRemaining() uint64 {
	now := ReadTSC()
	if now >= t.deadline {
		return 0
	}
	return t.deadline - now
}

func (t *TSC) CountdownEnded() bool { return ReadTSC() >= t.deadline }

func (t *TSC) StopCountdown() { t.deadline = ReadTSC() }

// HasInvariantTSC reports CPUID leaf 0x80000007, EDX bit 8. Implemented
// in tsc_amd64.s; the logic mirrors golang.org/x/sys/cpu's invariant-TSC
// feature detection, reimplemented by hand since freestanding code
// cannot import that package's OS-dependent init path.
//
//go:noescape
func HasInvariantTSC() bool
