package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nucleus/internal/proc"
	"nucleus/internal/tlv"
)

type fakeReturn struct {
	calls []uintptr
	// yield, if set, is applied to block.YieldInfo right after the fake
	// "return to user" call, simulating what really happens on the other
	// side of SYSRET/IRETQ.
	yield tlv.YieldInfo
	block *tlv.Block
}

func (f *fakeReturn) ReturnToUser(pageTableRoot uintptr) {
	f.calls = append(f.calls, pageTableRoot)
	f.block.YieldInfo = f.yield
}

// Invariant 5 from spec §8: the scheduler always dispatches from the
// lowest occupied priority level, round-robin within a level.
func TestSchedulerPriorityOrder(t *testing.T) {
	s := New(nil)
	low := &proc.Process{ID: 1, Priority: 5}
	high := &proc.Process{ID: 2, Priority: 1}
	s.Enqueue(low)
	s.Enqueue(high)

	block := &tlv.Block{}
	ret := &fakeReturn{block: block, yield: tlv.YieldInfo{Reason: tlv.YieldSyscall}}

	s.Run(ret, block)
	require.Equal(t, uint64(2), s.Current().ID) // high priority dispatched first
}

func TestSchedulerRoundRobinWithinLevel(t *testing.T) {
	s := New(nil)
	a := &proc.Process{ID: 1, Priority: 3}
	b := &proc.Process{ID: 2, Priority: 3}
	s.Enqueue(a)
	s.Enqueue(b)

	block := &tlv.Block{}
	ret := &fakeReturn{block: block, yield: tlv.YieldInfo{Reason: tlv.YieldSyscall}}

	s.Run(ret, block) // dispatches a, re-enqueues it at tail
	require.Equal(t, uint64(1), s.Current().ID)
	s.Run(ret, block) // dispatches b
	require.Equal(t, uint64(2), s.Current().ID)
	s.Run(ret, block) // back to a
	require.Equal(t, uint64(1), s.Current().ID)
}

func TestSchedulerExceptionDropsProcess(t *testing.T) {
	s := New(nil)
	p := &proc.Process{ID: 1, Priority: 0}
	s.Enqueue(p)

	block := &tlv.Block{}
	ret := &fakeReturn{block: block, yield: tlv.YieldInfo{Reason: tlv.YieldException, ExceptionType: 13}}

	s.Run(ret, block)
	require.True(t, s.levels[0].empty())
}

func TestSchedulerIdleWhenEmpty(t *testing.T) {
	s := New(nil)
	block := &tlv.Block{}
	ret := &fakeReturn{block: block}
	require.NotPanics(t, func() { s.Run(ret, block) })
	require.Nil(t, s.Current())
}

// fakeDispatcher records the call it received and returns a fixed value,
// standing in for internal/syscall.Table.
type fakeDispatcher struct {
	called                     bool
	gotNum, gotA, gotB, gotC   uint64
	result                     uint64
}

func (f *fakeDispatcher) Dispatch(p *proc.Process, num uint64, arg0, arg1, arg2 uint64) uint64 {
	f.called = true
	f.gotNum, f.gotA, f.gotB, f.gotC = num, arg0, arg1, arg2
	return f.result
}

// A syscall yield must be serviced before the process is re-enqueued, and
// the dispatcher's return value must land back in RAX (spec §4.8).
func TestSchedulerDispatchesSyscallAndWritesBackRAX(t *testing.T) {
	disp := &fakeDispatcher{result: 99}
	s := New(disp)
	p := &proc.Process{ID: 1, Priority: 0}
	p.Registers.RAX = 0 // NumGetPID
	p.Registers.RDI = 10
	p.Registers.RSI = 20
	p.Registers.RDX = 30
	s.Enqueue(p)

	block := &tlv.Block{}
	ret := &fakeReturn{block: block, yield: tlv.YieldInfo{Reason: tlv.YieldSyscallRequest}}

	s.Run(ret, block)
	require.True(t, disp.called)
	require.Equal(t, uint64(10), disp.gotA)
	require.Equal(t, uint64(20), disp.gotB)
	require.Equal(t, uint64(30), disp.gotC)
	require.Equal(t, uint64(99), p.Registers.RAX)
}

// A no-op yield_syscall (the Yield syscall) must not reach the dispatch
// table at all — only syscall_request does (spec §4.7).
func TestSchedulerNoOpYieldSkipsDispatch(t *testing.T) {
	disp := &fakeDispatcher{result: 99}
	s := New(disp)
	p := &proc.Process{ID: 1, Priority: 0}
	s.Enqueue(p)

	block := &tlv.Block{}
	ret := &fakeReturn{block: block, yield: tlv.YieldInfo{Reason: tlv.YieldSyscall}}

	s.Run(ret, block)
	require.False(t, disp.called)
	require.False(t, s.levels[0].empty()) // re-enqueued, just not serviced
}

// exit_request frees the process instead of re-enqueueing it (spec
// §4.7 "exit_request → free(next)").
func TestSchedulerExitRequestFreesProcess(t *testing.T) {
	s := New(nil)
	p := &proc.Process{ID: 1, Priority: 0}
	s.Enqueue(p)

	block := &tlv.Block{}
	ret := &fakeReturn{block: block, yield: tlv.YieldInfo{Reason: tlv.YieldExitRequest}}

	require.NotPanics(t, func() { s.Run(ret, block) })
	require.True(t, s.levels[0].empty())
}
