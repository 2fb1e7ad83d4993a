package kerr

import "nucleus/internal/klog"

// HaltFunc is invoked by Panic after the diagnostic has been logged. It
// defaults to a busy spin so host tests can exercise a Panic call site
// without linking architecture-specific halt instructions; cmd/kernel
// overrides it at startup with a loop around the real hlt instruction, the same
// registration pattern internal/sched uses for ReturnToUser.
var HaltFunc = func() {
	for {
	}
}

// Panic is the single chokepoint every unrecoverable fault routes
// through: double fault, machine check, and kernel-mode exception
// re-entrancy (spec §7). It logs msg and, if given, a raw instruction
// pointer for each frame in trace, then calls HaltFunc and never
// returns — mirroring the teacher's abortBoot rather than the hosted
// runtime's panic/recover machinery, which assumes a live goroutine
// scheduler this kernel has not yet started.
func Panic(msg string, trace ...uintptr) {
	klog.Logf(klog.Fatal, "panic", "%s", msg)
	for _, pc := range trace {
		klog.Logf(klog.Fatal, "panic", "  at %x", uint64(pc))
	}
	HaltFunc()
}
