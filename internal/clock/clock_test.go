package clock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nucleus/internal/kerr"
)

// fakePort is an in-memory stand-in for real port I/O, letting PIT/RTC/
// CMOS logic run under the host toolchain.
type fakePort struct {
	regs map[uint16]uint8
}

func newFakePort() *fakePort { return &fakePort{regs: make(map[uint16]uint8)} }
func (f *fakePort) In8(port uint16) uint8          { return f.regs[port] }
func (f *fakePort) Out8(port uint16, value uint8)  { f.regs[port] = value }

// fakeBackend is a deterministic Backend stand-in for exercising
// Manager's dispatch and SleepMs-with-callback logic without depending
// on any real hardware polling loop.
type fakeBackend struct {
	slept     uint64
	remaining uint64
}

func (f *fakeBackend) Name() string              { return "fake" }
func (f *fakeBackend) CalibrationSleep(ms uint64) { f.slept += ms }
func (f *fakeBackend) SleepMs(ms uint64)          { f.slept += ms }
func (f *fakeBackend) StartCountdown(ms uint64) *kerr.Error {
	f.remaining = ms
	return nil
}
func (f *fakeBackend) CountdownRemaining() uint64 { return f.remaining }
func (f *fakeBackend) CountdownEnded() bool       { return f.remaining == 0 }
func (f *fakeBackend) StopCountdown()             { f.remaining = 0 }

func TestManagerPicksFirstUsableBackend(t *testing.T) {
	m, err := NewManager(nil, &fakeBackend{})
	require.Nil(t, err)
	require.Equal(t, "fake", m.BackendName())
}

func TestManagerNoBackendsIsError(t *testing.T) {
	_, err := NewManager(nil, nil)
	require.NotNil(t, err)
}

// Regression test for the countdown arithmetic bug in spec §9: ticks
// must scale with the requested duration, not collapse to a constant.
func TestTSCCountdownScalesWithDuration(t *testing.T) {
	tsc := &TSC{hzNum: 1_000_000, hzDen: 10} // 100,000 ticks/ms
	short := tsc.msToTicks(1)
	long := tsc.msToTicks(50)
	require.Equal(t, uint64(100_000), short)
	require.Equal(t, uint64(5_000_000), long)
	require.Greater(t, long, short)
}

func TestManagerSleepMsWithCallbackInvokedPerTick(t *testing.T) {
	backend := &fakeBackend{}
	m, err := NewManager(backend)
	require.Nil(t, err)

	calls := 0
	m.SleepMs(3, func() { calls++ })
	require.Equal(t, 3, calls)
	require.Equal(t, uint64(3), backend.slept)
}

func TestManagerSleepMsWithoutCallback(t *testing.T) {
	backend := &fakeBackend{}
	m, err := NewManager(backend)
	require.Nil(t, err)
	require.NotPanics(t, func() { m.SleepMs(5, nil) })
	require.Equal(t, uint64(5), backend.slept)
}
