package bootscan

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MBREntry is one non-empty slot of the MBR partition table.
type MBREntry struct {
	Number   int    `json:"number"`
	Type     byte   `json:"type"`
	TypeName string `json:"type_name"`
	Bootable bool   `json:"bootable"`
	StartLBA uint32 `json:"start_lba"`
	Sectors  uint32 `json:"sectors"`
}

type mbrPartition struct {
	Status      uint8
	_           [3]byte
	Type        uint8
	_           [3]byte
	FirstSector uint32
	Sectors     uint32
}

var mbrTypes = map[byte]string{
	0x00: "Empty",
	0x01: "FAT12",
	0x04: "FAT16",
	0x05: "Extended",
	0x06: "FAT16",
	0x07: "NTFS/exFAT/HPFS",
	0x0B: "FAT32",
	0x0C: "FAT32",
	0x0E: "FAT16",
	0x0F: "Extended",
	0x82: "Linux Swap",
	0x83: "Linux",
	0x8E: "Linux LVM",
	0xAF: "HFS/HFS+",
	0xEE: "GPT Protective MBR",
	0xEF: "EFI System",
	0xFB: "VMware VMFS",
	0xFD: "Linux RAID",
}

// MBRTypeName names a partition type byte.
func MBRTypeName(t byte) string {
	if n, ok := mbrTypes[t]; ok {
		return n
	}
	return fmt.Sprintf("Unknown (0x%02X)", t)
}

func parseMBR(lead []byte) []MBREntry {
	var table [4]mbrPartition
	if err := binary.Read(bytes.NewReader(lead[mbrTableOffset:mbrSigOffset]), binary.LittleEndian, &table); err != nil {
		return nil
	}
	var out []MBREntry
	for i, p := range table {
		if p.Type == 0 {
			continue
		}
		out = append(out, MBREntry{
			Number:   i + 1,
			Type:     p.Type,
			TypeName: MBRTypeName(p.Type),
			Bootable: p.Status == 0x80,
			StartLBA: p.FirstSector,
			Sectors:  p.Sectors,
		})
	}
	return out
}
