// Package proc implements process construction and the register/stack
// state a process needs before it can first be scheduled (spec §4.9).
package proc

import (
	"nucleus/internal/elf64"
	"nucleus/internal/kerr"
	"nucleus/internal/mem"
	"nucleus/internal/tlv"
)

// Type distinguishes the kernel's own bookkeeping "process zero" from
// real user processes (spec §3 "Process").
type Type uint8

const (
	TypeUser Type = iota
	TypeKernel
)

const (
	initialRFLAGS = 0x202 // IF set, reserved bit 1 set, everything else clear

	// userStackPages is the number of pages NewFromELF maps for the
	// initial stack (spec §4.9: "an initial 4 KiB stack page is
	// mapped") — exactly one; a process that needs more grows its own
	// stack via whatever mechanism spec §4.9's Non-goals leave out of
	// scope for this kernel.
	userStackPages = 1
)

// Process is one schedulable unit: identity, its saved register file
// (mirrored into the TLV block while it is the current process), its
// address space, and its place in the scheduler's run queue (spec §3,
// §4.7).
type Process struct {
	ID         uint64
	Type       Type
	Registers  tlv.Registers
	Mapper     *mem.UserMapper
	StackBase  uintptr
	StackSize  uintptr
	Priority   uint8

	Prev, Next *Process
}

// nextID is a process-table-wide counter; the scheduler owns
// serialization of process creation so a plain counter is sufficient
// (spec Non-goals exclude multi-core scheduling).
var nextID uint64 = 1

func allocateID() uint64 {
	id := nextID
	nextID++
	return id
}

// NewFromELF builds a user process from a parsed ELF64 image: maps
// every PT_LOAD segment with map_copy_from_buffer, relaxes each
// segment's permissions to what the program header declares, maps an
// initial stack, and sets the entry RIP/RSP/RFLAGS (spec §4.9).
func NewFromELF(physAlloc *mem.PageAllocator, kernel *mem.KernelMapper, image *elf64.Image, fileData []byte) (*Process, *kerr.Error) {
	mapper, err := mem.NewUserMapper(physAlloc, kernel)
	if err != nil {
		return nil, err
	}

	for _, seg := range image.Segments {
		segData := fileData[seg.FileOff : seg.FileOff+seg.FileSize]
		if err := mapper.MapCopyFromBuffer(seg.VirtAddr, uintptr(seg.MemSize), segData); err != nil {
			mapper.Deinit()
			return nil, err
		}

		flags := mem.FlagUser
		if seg.Writable {
			flags |= mem.FlagWritable
		}
		if !seg.Executable {
			flags |= mem.FlagNoExecute
		}
		if err := mapper.ChangeFlagsRelaxing(seg.VirtAddr, flags, uintptr(seg.MemSize)); err != nil {
			mapper.Deinit()
			return nil, err
		}
	}

	// The stack sits directly above the highest byte any PT_LOAD segment
	// occupies, page-aligned (spec §4.9: "(highest_program_segment_address
	// + 1) & ~0xFFF"), rather than at a fixed offset below the kernel
	// half — that leaves no fixed-size gap an oversized image could grow
	// into and collide with.
	var highest uintptr
	for _, seg := range image.Segments {
		if end := seg.VirtAddr + uintptr(seg.MemSize); end > highest {
			highest = end
		}
	}
	stackBase := (highest + 1) &^ (mem.PageSize - 1)

	if err := mapper.MapCopyFromBuffer(stackBase, userStackPages*mem.PageSize, nil); err != nil {
		mapper.Deinit()
		return nil, err
	}

	// PT_GNU_STACK, when present, overrides the stack's executability;
	// its absence keeps the conservative writable/non-executable default
	// (spec §4.9, §3 "a present GnuStack entry overrides the stack's W/X
	// bits").
	stackFlags := mem.FlagUser | mem.FlagWritable | mem.FlagNoExecute
	if image.StackExecutable {
		stackFlags &^= mem.FlagNoExecute
	}
	if err := mapper.ChangeFlagsRelaxing(stackBase, stackFlags, userStackPages*mem.PageSize); err != nil {
		mapper.Deinit()
		return nil, err
	}

	stackTop := stackBase + userStackPages*mem.PageSize

	p := &Process{
		ID:        allocateID(),
		Type:      TypeUser,
		Mapper:    mapper,
		StackBase: stackBase,
		StackSize: userStackPages * mem.PageSize,
	}
	p.Registers.RIP = uint64(image.Entry)
	p.Registers.RSP = uint64(stackTop - 8) // top minus 8 bytes, spec §4.9
	p.Registers.RFLAGS = initialRFLAGS
	return p, nil
}

// Destroy tears down a process's address space. The process must
// already have been removed from every scheduler run queue.
func (p *Process) Destroy() {
	if p.Mapper != nil {
		p.Mapper.Deinit()
	}
}
