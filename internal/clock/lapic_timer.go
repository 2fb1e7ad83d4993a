package clock

import "nucleus/internal/kerr"

// LAPICCountdown is the subset of apic.LocalAPIC this package drives
// (the clock manager's first preference, driven in one-shot mode; the
// TSC-deadline timer mode is not used). It is an interface, not a direct import of
// internal/apic, for the same host-testability reason the other
// backends take a Port rather than a concrete driver.
type LAPICCountdown interface {
	BeginCalibration()
	EndCalibration() uint64
	Calibrate(ticksElapsed, ms uint64)
	StartCountdown(vector uint8, ms uint64) *kerr.Error
	CountdownRemaining() uint32
	CountdownEnded() bool
	StopCountdown()
}

// LAPICTimer adapts a LAPICCountdown to the clock.Backend interface.
// Unlike PIT/RTC/CMOS it cannot calibrate itself from nothing — the
// APIC timer's tick rate depends on the bus clock, which this kernel
// never reads directly — so NewLAPICTimer calibrates it against
// whichever backend the clock manager already trusts, per spec §4.5's
// preference order putting the APIC timer ahead of everything it is
// calibrated against.
type LAPICTimer struct {
	apic   LAPICCountdown
	vector uint8
}

// calibrationWindowMs is the known-duration sleep NewLAPICTimer uses to
// measure the APIC timer's ticks-per-millisecond ratio.
const calibrationWindowMs = 10

// NewLAPICTimer calibrates apicTimer against calibrateAgainst's
// CalibrationSleep and returns a Backend that delivers its one-shot
// countdowns on vector.
func NewLAPICTimer(apicTimer LAPICCountdown, vector uint8, calibrateAgainst Backend) *LAPICTimer {
	apicTimer.BeginCalibration()
	calibrateAgainst.CalibrationSleep(calibrationWindowMs)
	ticks := apicTimer.EndCalibration()
	apicTimer.Calibrate(ticks, calibrationWindowMs)
	return &LAPICTimer{apic: apicTimer, vector: vector}
}

func (l *LAPICTimer) Name() string { return "apic-timer" }

// CalibrationSleep busy-waits by arming a countdown and polling it to
// completion; used if a later backend ever needs to calibrate against
// this one.
func (l *LAPICTimer) CalibrationSleep(ms uint64) { l.SleepMs(ms) }

func (l *LAPICTimer) SleepMs(ms uint64) {
	if l.apic.StartCountdown(l.vector, ms) != nil {
		return
	}
	for !l.apic.CountdownEnded() {
	}
}

func (l *LAPICTimer) StartCountdown(ms uint64) *kerr.Error {
	return l.apic.StartCountdown(l.vector, ms)
}

func (l *LAPICTimer) CountdownRemaining() uint64 { return uint64(l.apic.CountdownRemaining()) }
func (l *LAPICTimer) CountdownEnded() bool       { return l.apic.CountdownEnded() }
func (l *LAPICTimer) StopCountdown()             { l.apic.StopCountdown() }
