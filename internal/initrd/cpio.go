// Package initrd reads the "new ASCII" CPIO archive format (magic
// "070701") used for the boot-time initial ramdisk (spec §4.10/§3
// "initrd/CPIO reader").
package initrd

import "nucleus/internal/kerr"

const (
	headerMagic = "070701"
	headerSize  = 110
	trailerName = "TRAILER!!!"
)

func hex8(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint32(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= uint32(c-'A') + 10
		}
	}
	return v
}

func alignUp4(n int) int { return (n + 3) &^ 3 }

// Parse walks a CPIO "new ASCII" archive sequentially and returns the
// contents of every entry with a non-zero file size, keyed by its archive
// path. Entries with zero size are skipped; the mode field is not read,
// so entry types are not distinguished. Parsing stops at the TRAILER!!!
// sentinel entry exactly as cpio specifies.
func Parse(data []byte) (map[string][]byte, *kerr.Error) {
	files := make(map[string][]byte)
	pos := 0

	for {
		if pos+headerSize > len(data) {
			return nil, kerr.ErrMalformedCPIOArchive
		}
		header := data[pos : pos+headerSize]
		if string(header[0:6]) != headerMagic {
			return nil, kerr.ErrMalformedCPIOArchive
		}

		fileSize := hex8(header[54:62])
		nameSize := hex8(header[94:102])

		nameStart := pos + headerSize
		nameEnd := nameStart + int(nameSize)
		if nameEnd > len(data) {
			return nil, kerr.ErrMalformedCPIOArchive
		}
		name := string(data[nameStart : nameEnd-1]) // drop trailing NUL

		dataStart := alignUp4(nameEnd)
		dataEnd := dataStart + int(fileSize)
		if dataEnd > len(data) {
			return nil, kerr.ErrMalformedCPIOArchive
		}

		if name == trailerName {
			break
		}
		if fileSize > 0 {
			content := make([]byte, fileSize)
			copy(content, data[dataStart:dataEnd])
			files[name] = content
		}

		pos = alignUp4(dataEnd)
	}
	return files, nil
}
