package clock

import "nucleus/internal/kerr"

// CMOS backend: a poll-only fallback that reads the seconds register
// directly rather than arming the periodic interrupt RTC uses. It is
// a whole second less precise than RTC but needs no IRQ wiring at all,
// so it is tried only after both the APIC timer and the interrupt-
// driven RTC have been ruled out (spec §4.5 preference order).
const cmosRegSeconds = 0x00

type CMOS struct {
	port     Port
	deadline uint64
}

func NewCMOS(port Port) *CMOS { return &CMOS{port: port} }

func (c *CMOS) Name() string { return "cmos" }

func (c *CMOS) waitUntilStable() uint8 {
	for c.read(rtcRegA)&0x80 != 0 {
		// UIP (update in progress) set: the seconds register is mid-tick.
	}
	return c.read(cmosRegSeconds)
}

func (c *CMOS) read(reg uint8) uint8 {
	c.port.Out8(rtcIndex, reg)
	return c.port.In8(rtcData)
}

func bcdToBin(v uint8) uint64 { return uint64(v&0x0F) + uint64(v>>4)*10 }

func (c *CMOS) nowSeconds() uint64 { return bcdToBin(c.waitUntilStable()) }

func (c *CMOS) CalibrationSleep(ms uint64) { c.SleepMs(ms) }

func (c *CMOS) SleepMs(ms uint64) {
	secs := (ms + 999) / 1000
	start := c.nowSeconds()
	for c.nowSeconds()-start < secs {
	}
}

func (c *CMOS) StartCountdown(ms uint64) *kerr.Error {
	c.deadline = c.nowSeconds() + (ms+999)/1000
	return nil
}

func (c *CMOS) CountdownRemaining() uint64 {
	now := c.nowSeconds()
	if now >= c.deadline {
		return 0
	}
	return c.deadline - now
}

func (c *CMOS) CountdownEnded() bool { return c.nowSeconds() >= c.deadline }

func (c *CMOS) StopCountdown() { c.deadline = c.nowSeconds() }
