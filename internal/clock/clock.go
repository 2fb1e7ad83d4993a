// Package clock implements the clock manager (spec §4.5): a backend
// selected at runtime from whichever timing source the hardware
// actually exposes, reached everywhere else through one function-
// pointer dispatch table so callers never know which backend is live.
package clock

import "nucleus/internal/kerr"

// Backend is the function-pointer table every clock source implements.
// CalibrationSleep busy-waits a known duration for the APIC timer's
// calibration pass; the rest implement a generic one-shot countdown.
type Backend interface {
	Name() string
	CalibrationSleep(ms uint64)
	SleepMs(ms uint64)
	StartCountdown(ms uint64) *kerr.Error
	CountdownRemaining() uint64
	CountdownEnded() bool
	StopCountdown()
}

// Manager dispatches every clock operation to whichever Backend was
// selected at Init time (spec §4.5 preference order: APIC timer in
// one-shot mode, else PIT, else RTC periodic interrupt, else CMOS
// seconds polling, else raw TSC against a calibrated frequency).
type Manager struct {
	backend Backend
}

// NewManager picks the first non-nil backend in candidates, in priority
// order; callers leave a candidate nil when its hardware is unusable.
func NewManager(candidates ...Backend) (*Manager, *kerr.Error) {
	for _, c := range candidates {
		if c != nil {
			return &Manager{backend: c}, nil
		}
	}
	return nil, kerr.New("clock", "no usable timing backend")
}

func (m *Manager) BackendName() string { return m.backend.Name() }

// CalibrationSleep blocks for ms milliseconds using the selected
// backend's own timing, independent of any countdown in progress — it
// is what the APIC calibration pass measures ticks-per-millisecond
// against.
func (m *Manager) CalibrationSleep(ms uint64) { m.backend.CalibrationSleep(ms) }

// SleepMs blocks the calling CPU for ms milliseconds. fn, if non-nil,
// is invoked once per backend tick while waiting, e.g. for a
// caller-supplied progress callback; the original implementation this
// replaces referenced an undeclared `arg` when fn was set, so the
// contract here is explicit: fn receives no arguments and returns none.
func (m *Manager) SleepMs(ms uint64, fn func()) {
	if fn == nil {
		m.backend.SleepMs(ms)
		return
	}
	const tickMs = 1
	remaining := ms
	for remaining > 0 {
		step := uint64(tickMs)
		if step > remaining {
			step = remaining
		}
		m.backend.SleepMs(step)
		fn()
		remaining -= step
	}
}

func (m *Manager) StartCountdown(ms uint64) *kerr.Error { return m.backend.StartCountdown(ms) }
func (m *Manager) CountdownRemaining() uint64            { return m.backend.CountdownRemaining() }
func (m *Manager) CountdownEnded() bool                  { return m.backend.CountdownEnded() }
func (m *Manager) StopCountdown()                        { m.backend.StopCountdown() }
