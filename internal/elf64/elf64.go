// Package elf64 parses the minimal subset of ELF64 this kernel needs to
// load a process image: the file header and PT_LOAD/PT_GNU_STACK
// program headers (spec §4.9).
package elf64

import "nucleus/internal/kerr"

const (
	magic0, magic1, magic2, magic3 = 0x7F, 'E', 'L', 'F'

	classELF64  = 2
	dataLSB     = 1
	machineX8664 = 0x3E

	ptLoad      = 1
	ptGNUStack  = 0x6474e551

	pfExecute = 1 << 0
	pfWrite   = 1 << 1
	pfRead    = 1 << 2
)

// Segment is one PT_LOAD program header, translated into the fields
// internal/proc needs to map it (spec §4.9: map_copy_from_buffer +
// change_flags_relaxing per segment).
type Segment struct {
	VirtAddr uintptr
	FileOff  uint64
	FileSize uint64
	MemSize  uint64
	Writable bool
	Executable bool
}

// Image is the parsed subset of an ELF64 executable.
type Image struct {
	Entry          uintptr
	Segments       []Segment
	StackExecutable bool // from PT_GNU_STACK's PF_X, if present; default false
	sawGNUStack    bool
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) bytes(n int) []byte {
	if r.pos+n > len(r.buf) {
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return uint16(b[0]) | uint16(b[1])<<8
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (r *reader) u64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Parse validates the ELF header (EI_CLASS, EI_DATA, e_machine) and
// walks the program header table, keeping only PT_LOAD and PT_GNU_STACK
// entries (spec §4.9, §3 "ELF64 loader").
func Parse(data []byte) (*Image, *kerr.Error) {
	if len(data) < 64 {
		return nil, kerr.New("elf64", "file too short for ELF header")
	}
	if data[0] != magic0 || data[1] != magic1 || data[2] != magic2 || data[3] != magic3 {
		return nil, kerr.New("elf64", "bad ELF magic")
	}
	if data[4] != classELF64 {
		return nil, kerr.ErrInvalidElfClass
	}
	if data[5] != dataLSB {
		return nil, kerr.ErrInvalidElfData
	}

	r := &reader{buf: data, pos: 16} // skip e_ident
	_ = r.u16()                      // e_type
	machine := r.u16()
	if machine != machineX8664 {
		return nil, kerr.ErrWrongCPUArchitecture
	}
	_ = r.u32() // e_version
	entry := r.u64()
	phoff := r.u64()
	_ = r.u64() // e_shoff
	_ = r.u32() // e_flags
	_ = r.u16() // e_ehsize
	phentsize := r.u16()
	phnum := r.u16()

	img := &Image{Entry: uintptr(entry)}
	for i := uint16(0); i < phnum; i++ {
		ph := &reader{buf: data, pos: int(phoff) + int(i)*int(phentsize)}
		ptype := ph.u32()
		flags := ph.u32()
		offset := ph.u64()
		vaddr := ph.u64()
		_ = ph.u64() // paddr
		filesz := ph.u64()
		memsz := ph.u64()

		switch ptype {
		case ptLoad:
			img.Segments = append(img.Segments, Segment{
				VirtAddr:   uintptr(vaddr),
				FileOff:    offset,
				FileSize:   filesz,
				MemSize:    memsz,
				Writable:   flags&pfWrite != 0,
				Executable: flags&pfExecute != 0,
			})
		case ptGNUStack:
			img.sawGNUStack = true
			img.StackExecutable = flags&pfExecute != 0
		}
	}
	return img, nil
}
