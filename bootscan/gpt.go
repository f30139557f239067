package bootscan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"

	"github.com/google/uuid"
)

const (
	gptSignature    = "EFI PART"
	gptMaxEntries   = 128
	gptMaxEntrySize = 4096
)

// GPT carries the header fields and the used partition entries.
type GPT struct {
	DiskGUID        string     `json:"disk_guid"`
	Revision        string     `json:"revision"`
	HeaderSize      uint32     `json:"header_size"`
	FirstUsableLBA  uint64     `json:"first_usable_lba"`
	LastUsableLBA   uint64     `json:"last_usable_lba"`
	BackupLBA       uint64     `json:"backup_lba"`
	Entries         []GPTEntry `json:"entries"`
	BackupConfirmed *bool      `json:"backup_confirmed,omitempty"`
}

// GPTEntry is one used slot of the partition entry array.
type GPTEntry struct {
	Number     int    `json:"number"`
	TypeGUID   string `json:"type_guid"`
	TypeName   string `json:"type_name"`
	UniqueGUID string `json:"unique_guid"`
	FirstLBA   uint64 `json:"first_lba"`
	LastLBA    uint64 `json:"last_lba"`
	Attributes uint64 `json:"attributes"`
	Name       string `json:"name,omitempty"`
}

type gptHeader struct {
	Signature           [8]byte
	Revision            [4]byte
	HeaderSize          uint32
	CRC32               uint32
	_                   [4]byte
	CurrentLBA          uint64
	BackupLBA           uint64
	FirstUsableLBA      uint64
	LastUsableLBA       uint64
	DiskGUID            [16]byte
	PartitionEntryLBA   uint64
	NumPartEntries      uint32
	PartEntrySize       uint32
	PartEntryArrayCRC32 uint32
}

type gptPartition struct {
	TypeGUID       [16]byte
	UniqueGUID     [16]byte
	FirstLBA       uint64
	LastLBA        uint64
	AttributeFlags uint64
	PartitionName  [72]byte
}

const guidESP = "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"

var gptTypes = map[string]string{
	guidESP:                                "EFI System",
	"ebd0a0a2-b9e5-4433-87c0-68b6b72699c7": "Microsoft Basic Data",
	"e3c9e316-0b5c-4db8-817d-f92df00215ae": "Microsoft Reserved",
	"0fc63daf-8483-4772-8e79-3d69d8477de4": "Linux filesystem",
	"0657fd6d-a4ab-43c4-84e5-0933c84b4f4f": "Linux swap",
	"e6d6d379-f507-44c2-a23c-238f2a3df928": "Linux LVM",
	"a19d880f-05fc-4d3b-a006-743f0f84911e": "Linux RAID",
	"7c3457ef-0000-11aa-aa11-00306543ecac": "Apple APFS",
	"48465300-0000-11aa-aa11-00306543ecac": "Apple HFS+",
	"21686148-6449-6e6f-744e-656564454649": "BIOS boot",
}

// GPTTypeName names a partition type GUID in canonical form.
func GPTTypeName(guid string) string {
	if n, ok := gptTypes[guid]; ok {
		return n
	}
	return "Unknown"
}

// GUID formats on-disk GUID bytes. The first three fields are stored
// little-endian.
func GUID(b [16]byte) string {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:])
	return u.String()
}

func parseGPT(r io.ReaderAt, lead []byte, size int64, logical int) *GPT {
	raw := window(lead, logical, 92)
	if len(raw) < 92 || string(raw[:8]) != gptSignature {
		return nil
	}
	var h gptHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &h); err != nil {
		return nil
	}
	g := &GPT{
		DiskGUID:       GUID(h.DiskGUID),
		Revision:       fmt.Sprintf("%d.%d", binary.LittleEndian.Uint16(h.Revision[2:]), binary.LittleEndian.Uint16(h.Revision[:2])),
		HeaderSize:     h.HeaderSize,
		FirstUsableLBA: h.FirstUsableLBA,
		LastUsableLBA:  h.LastUsableLBA,
		BackupLBA:      h.BackupLBA,
	}
	g.Entries = parseEntries(r, lead, h, size, logical)

	if size >= int64(2*logical) {
		last := size - int64(logical)
		if b, err := readAvailable(r, last, 8); err == nil {
			ok := string(b) == gptSignature
			g.BackupConfirmed = &ok
		}
	}
	return g
}

func parseEntries(r io.ReaderAt, lead []byte, h gptHeader, size int64, logical int) []GPTEntry {
	if h.PartEntrySize < 128 || h.PartEntrySize > gptMaxEntrySize || h.PartEntrySize%128 != 0 || h.NumPartEntries == 0 {
		return nil
	}
	off, ok := lbaOffset(h.PartitionEntryLBA, size, logical)
	if !ok {
		return nil
	}
	count := min(int(h.NumPartEntries), gptMaxEntries)
	n := count * int(h.PartEntrySize)

	var table []byte
	if off+int64(n) <= int64(len(lead)) {
		table = lead[off : off+int64(n)]
	} else {
		b, err := readAvailable(r, off, n)
		if err != nil {
			return nil
		}
		table = b
	}

	var out []GPTEntry
	for i := 0; i < count; i++ {
		raw := window(table, i*int(h.PartEntrySize), 128)
		if len(raw) < 128 {
			break
		}
		var p gptPartition
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &p); err != nil {
			break
		}
		if p.TypeGUID == [16]byte{} {
			continue
		}
		typ := GUID(p.TypeGUID)
		out = append(out, GPTEntry{
			Number:     i + 1,
			TypeGUID:   typ,
			TypeName:   GPTTypeName(typ),
			UniqueGUID: GUID(p.UniqueGUID),
			FirstLBA:   p.FirstLBA,
			LastLBA:    p.LastLBA,
			Attributes: p.AttributeFlags,
			Name:       utf16Name(p.PartitionName[:]),
		})
	}
	return out
}

// lbaOffset converts an on-disk LBA to a byte offset, rejecting values that
// fall outside a device of the given size. An unknown size only guards
// against overflow.
func lbaOffset(lba uint64, size int64, logical int) (int64, bool) {
	if logical <= 0 {
		return 0, false
	}
	limit := uint64(math.MaxInt64) / uint64(logical)
	if size > 0 {
		limit = uint64(size) / uint64(logical)
	}
	if lba >= limit {
		return 0, false
	}
	return int64(lba) * int64(logical), true
}

func utf16Name(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		c := binary.LittleEndian.Uint16(b[i:])
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	return string(utf16.Decode(u))
}
