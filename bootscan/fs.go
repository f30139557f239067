package bootscan

import (
	"encoding/binary"
	"io"
)

// Filesystem is a signature found at the start of a volume. Partition is 0
// for the whole device.
type Filesystem struct {
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Name      string `json:"name"`
	Label     string `json:"label,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

const (
	fsProbeSize   = 4096
	extSuperblock = 1024
	btrfsMagicAt  = 0x10040
)

const (
	extCompatJournal = 0x0004
	extIncompatRecov = 0x0004
	ext4Incompat     = 0x0040 | 0x0080 | 0x0100 | 0x0200 | 0x8000
	ext4ROCompat     = 0x0008 | 0x0010 | 0x0020 | 0x0040
)

type volume struct {
	partition int
	offset    int64
}

func volumes(a *Analysis, size int64, logical int) []volume {
	out := []volume{{0, 0}}
	seen := map[int64]bool{0: true}
	add := func(n int, lba uint64) {
		if lba == 0 {
			return
		}
		off, ok := lbaOffset(lba, size, logical)
		if !ok || seen[off] {
			return
		}
		seen[off] = true
		out = append(out, volume{n, off})
	}
	for _, e := range a.MBREntries {
		switch e.Type {
		case 0x05, 0x0F, 0xEE:
			continue
		}
		add(e.Number, uint64(e.StartLBA))
	}
	if a.GPT != nil {
		for _, e := range a.GPT.Entries {
			add(e.Number, e.FirstLBA)
		}
	}
	return out
}

func detectFilesystems(r io.ReaderAt, lead []byte, a *Analysis, size int64, logical int) []Filesystem {
	var out []Filesystem
	for _, v := range volumes(a, size, logical) {
		if v.offset < 0 || (size > 0 && v.offset >= size) {
			continue
		}
		var head []byte
		if v.offset+fsProbeSize <= int64(len(lead)) {
			head = lead[v.offset : v.offset+fsProbeSize]
		} else {
			b, err := readAvailable(r, v.offset, fsProbeSize)
			if err != nil {
				continue
			}
			head = b
		}
		fs, ok := identify(head)
		if !ok {
			fs, ok = identifyFar(r, v.offset, size, v.offset == 0 && a.IsISO9660)
		}
		if !ok {
			continue
		}
		fs.Partition, fs.Offset = v.partition, v.offset
		if fs.Name == "ISO 9660" && v.offset == 0 {
			fs.Size = a.ISOSize
			if a.ISOVolumeLabel != nil {
				fs.Label = *a.ISOVolumeLabel
			}
		}
		out = append(out, fs)
	}
	return out
}

// identify checks the signatures that live in the first 4 KiB of a volume.
func identify(b []byte) (Filesystem, bool) {
	at := func(off int, sig string) bool {
		w := window(b, off, len(sig))
		return string(w) == sig
	}
	switch {
	case at(3, "NTFS    "):
		fs := Filesystem{Name: "NTFS"}
		if len(b) >= 0x30 {
			bps := binary.LittleEndian.Uint16(b[0x0B:])
			fs.Size = int64(binary.LittleEndian.Uint64(b[0x28:])) * int64(bps)
		}
		return fs, true
	case at(3, "EXFAT   "):
		return Filesystem{Name: "exFAT"}, true
	case at(82, "FAT32   "):
		return Filesystem{Name: "FAT32", Label: fatLabel(window(b, 71, 11))}, true
	case at(54, "FAT16   "):
		return Filesystem{Name: "FAT16", Label: fatLabel(window(b, 43, 11))}, true
	case at(54, "FAT12   "):
		return Filesystem{Name: "FAT12", Label: fatLabel(window(b, 43, 11))}, true
	case len(b) >= extSuperblock+0x88 && b[extSuperblock+0x38] == 0x53 && b[extSuperblock+0x39] == 0xEF:
		return extInfo(b[extSuperblock:]), true
	case at(1024, "H+"), at(1024, "HX"):
		return Filesystem{Name: "HFS+"}, true
	case at(32, "NXSB"):
		return Filesystem{Name: "APFS"}, true
	case at(0, "XFSB"):
		return Filesystem{Name: "XFS", Label: asciiField(window(b, 0x6C, 12))}, true
	}
	return Filesystem{}, false
}

// identifyFar checks the signatures that live beyond the probe window.
func identifyFar(r io.ReaderAt, off, size int64, iso bool) (Filesystem, bool) {
	if iso {
		return Filesystem{Name: "ISO 9660"}, true
	}
	probe := func(at int64, sig string) bool {
		if size > 0 && off+at+int64(len(sig)) > size {
			return false
		}
		b, err := readAvailable(r, off+at, len(sig))
		return err == nil && string(b) == sig
	}
	switch {
	case probe(btrfsMagicAt, "_BHRfS_M"):
		return Filesystem{Name: "Btrfs"}, true
	case off > 0 && probe(isoPVDOffset+1, "CD001"):
		return Filesystem{Name: "ISO 9660"}, true
	}
	return Filesystem{}, false
}

func extInfo(sb []byte) Filesystem {
	compat := binary.LittleEndian.Uint32(sb[0x5C:])
	incompat := binary.LittleEndian.Uint32(sb[0x60:])
	roCompat := binary.LittleEndian.Uint32(sb[0x64:])

	fs := Filesystem{Name: "ext2", Label: asciiField(sb[0x78:0x88])}
	switch {
	case incompat&ext4Incompat != 0, roCompat&ext4ROCompat != 0:
		fs.Name = "ext4"
	case incompat&extIncompatRecov != 0, compat&extCompatJournal != 0:
		fs.Name = "ext3"
	}
	blocks := int64(binary.LittleEndian.Uint32(sb[0x04:]))
	if shift := binary.LittleEndian.Uint32(sb[0x18:]); shift < 16 {
		fs.Size = blocks * (1024 << shift)
	}
	return fs
}

func fatLabel(b []byte) string {
	l := asciiField(b)
	if l == "NO NAME" {
		return ""
	}
	return l
}
