package syscall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nucleus/internal/proc"
)

func TestDispatchGetPID(t *testing.T) {
	tbl := NewTable()
	p := &proc.Process{ID: 42}
	got := tbl.Dispatch(p, NumGetPID, 0, 0, 0)
	require.Equal(t, uint64(42), got)
}

func TestDispatchUnknownNumber(t *testing.T) {
	tbl := NewTable()
	p := &proc.Process{ID: 1}
	got := tbl.Dispatch(p, 99, 0, 0, 0)
	require.Equal(t, unknownResult, got)
}

// NumYield and NumExit are classified into their own YieldReason before
// a trap ever reaches Dispatch (internal/cpu.recordSyscallYield), so
// neither has a table slot; reaching Dispatch with either number is the
// same as any other out-of-range index.
func TestDispatchYieldAndExitAreNotTableEntries(t *testing.T) {
	tbl := NewTable()
	p := &proc.Process{ID: 1}
	require.Equal(t, unknownResult, tbl.Dispatch(p, NumYield, 0, 0, 0))
	require.Equal(t, unknownResult, tbl.Dispatch(p, NumExit, 0, 0, 0))
}

func TestDebugWithNoMapperDoesNotPanic(t *testing.T) {
	tbl := NewTable()
	p := &proc.Process{ID: 1}
	require.NotPanics(t, func() {
		require.Equal(t, uint64(0), tbl.Dispatch(p, NumDebug, 0, 0, 0))
	})
}
