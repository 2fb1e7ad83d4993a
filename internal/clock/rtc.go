package clock

import "nucleus/internal/kerr"

// RTC (Motorola MC146818) ports, shared with CMOS (spec §4.5).
const (
	rtcIndex = 0x70
	rtcData  = 0x71

	rtcRegA = 0x0A
	rtcRegB = 0x0B
	rtcRegC = 0x0C
)

// RTC drives the real-time clock's periodic interrupt as a coarse
// clock backend, used when neither the APIC timer nor the PIT is
// available.
type RTC struct {
	port     Port
	rateHz   uint64
	deadline uint64
	elapsed  uint64
}

func NewRTC(port Port) *RTC {
	r := &RTC{port: port, rateHz: 1024}
	r.enablePeriodic()
	return r
}

func (r *RTC) read(reg uint8) uint8 {
	r.port.Out8(rtcIndex, reg)
	return r.port.In8(rtcData)
}

func (r *RTC) write(reg, value uint8) {
	r.port.Out8(rtcIndex, reg)
	r.port.Out8(rtcData, value)
}

func (r *RTC) enablePeriodic() {
	a := r.read(rtcRegA)
	r.write(rtcRegA, (a&0xF0)|0x06) // rate selector -> 1024 Hz
	b := r.read(rtcRegB)
	r.write(rtcRegB, b|0x40) // enable periodic interrupt
}

// tick is invoked once per periodic interrupt by the interrupt
// dispatcher; it must read register C to clear the RTC's interrupt
// flag or no further interrupt fires.
func (r *RTC) tick() {
	r.read(rtcRegC)
	r.elapsed++
}

func (r *RTC) Name() string { return "rtc" }

func (r *RTC) CalibrationSleep(ms uint64) { r.SleepMs(ms) }

func (r *RTC) SleepMs(ms uint64) {
	target := r.elapsed + (ms*r.rateHz)/1000
	for r.elapsed < target {
		r.tick()
	}
}

func (r *RTC) StartCountdown(ms uint64) *kerr.Error {
	r.deadline = r.elapsed + (ms*r.rateHz)/1000
	return nil
}

func (r *RTC) CountdownRemaining() uint64 {
	if r.elapsed >= r.deadline {
		return 0
	}
	return r.deadline - r.elapsed
}

func (r *RTC) CountdownEnded() bool { return r.elapsed >= r.deadline }

func (r *RTC) StopCountdown() { r.deadline = r.elapsed }
