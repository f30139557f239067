// Package bootscan inspects the leading sectors of a device for MBR, GPT and
// ISO 9660 structures and derives a bootability verdict. Every check is a
// fixed byte-offset test; a missing structure is a result, not an error.
package bootscan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// LeadingRange is how much of the device start is read in one go. It covers
// the MBR, the GPT header and entry array and the ISO 9660 volume descriptor
// set through the El Torito boot record.
const LeadingRange = 0xC000

const (
	mbrSigOffset   = 510
	mbrTableOffset = 446
	isoPVDOffset   = 0x8000
	isoDescSize    = 2048
	isoMaxDescs    = 8
	elToritoID     = "EL TORITO SPECIFICATION"
)

// Verdicts, in precedence order.
const (
	VerdictUEFI        = "UEFI (GPT)"
	VerdictHybrid      = "Hybrid (UEFI + Legacy)"
	VerdictLegacy      = "Legacy BIOS (MBR)"
	VerdictElTorito    = "ISO Boot (El Torito)"
	VerdictISO         = "ISO (not bootable)"
	VerdictMBROnly     = "MBR present (not bootable)"
	VerdictNotBootable = "Not bootable"
)

// Analysis is the structural summary of a device.
type Analysis struct {
	HasMBRSignature bool         `json:"has_mbr_signature"`
	MBREntries      []MBREntry   `json:"mbr_partition_entries"`
	HasGPT          bool         `json:"has_gpt"`
	GPTDiskGUID     *string      `json:"gpt_disk_guid,omitempty"`
	GPT             *GPT         `json:"gpt,omitempty"`
	IsISO9660       bool         `json:"is_iso9660"`
	ISOVolumeLabel  *string      `json:"iso_volume_label,omitempty"`
	ISOSize         int64        `json:"iso_size,omitempty"`
	HasElTorito     bool         `json:"has_el_torito"`
	BootCatalogLBA  *uint32      `json:"boot_catalog_lba,omitempty"`
	HasEFI          bool         `json:"has_efi"`
	HasBootFlag     bool         `json:"has_boot_flag"`
	Bootable        bool         `json:"bootable"`
	Verdict         string       `json:"verdict"`
	Filesystems     []Filesystem `json:"filesystems,omitempty"`
}

// Analyze reads the leading range of r (and, for GPT disks, the last logical
// block) and reports what it finds. size is the device capacity and logical
// its logical block size; zero selects 512. Only a failure to read the first
// sector is an error.
func Analyze(r io.ReaderAt, size int64, logical int) (*Analysis, error) {
	if logical <= 0 {
		logical = 512
	}
	n := int64(LeadingRange)
	if size > 0 && size < n {
		n = size
	}
	lead, err := readAvailable(r, 0, int(n))
	if err != nil {
		return nil, fmt.Errorf("read leading range: %w", err)
	}
	if len(lead) < 512 {
		return nil, fmt.Errorf("read leading range: device returned %d bytes, need at least 512", len(lead))
	}

	a := &Analysis{}
	a.HasMBRSignature = lead[mbrSigOffset] == 0x55 && lead[mbrSigOffset+1] == 0xAA
	if a.HasMBRSignature {
		a.MBREntries = parseMBR(lead)
		for _, e := range a.MBREntries {
			a.HasBootFlag = a.HasBootFlag || e.Bootable
			a.HasEFI = a.HasEFI || e.Type == 0xEF || e.Type == 0xEE
		}
	}

	if g := parseGPT(r, lead, size, logical); g != nil {
		a.HasGPT = true
		a.GPT = g
		guid := g.DiskGUID
		a.GPTDiskGUID = &guid
		for _, e := range g.Entries {
			a.HasEFI = a.HasEFI || e.TypeGUID == guidESP
		}
	}

	parseISO(a, lead)
	a.Filesystems = detectFilesystems(r, lead, a, size, logical)
	a.Verdict = verdict(a)
	a.Bootable = a.HasGPT || a.HasBootFlag || a.HasElTorito || a.HasEFI
	return a, nil
}

// verdict applies the fixed precedence: GPT+EFI, Hybrid, Legacy, El Torito,
// plain ISO, bare MBR.
func verdict(a *Analysis) string {
	switch {
	case a.HasGPT && a.HasEFI:
		return VerdictUEFI
	case a.HasMBRSignature && a.HasEFI:
		return VerdictHybrid
	case a.HasMBRSignature && a.HasBootFlag:
		return VerdictLegacy
	case a.IsISO9660 && a.HasElTorito:
		return VerdictElTorito
	case a.IsISO9660:
		return VerdictISO
	case a.HasMBRSignature:
		return VerdictMBROnly
	}
	return VerdictNotBootable
}

func parseISO(a *Analysis, lead []byte) {
	pvd := window(lead, isoPVDOffset, isoDescSize)
	if len(pvd) < 6 || string(pvd[1:6]) != "CD001" {
		return
	}
	a.IsISO9660 = true
	if label := asciiField(window(pvd, 0x28, 32)); label != "" {
		a.ISOVolumeLabel = &label
	}
	a.ISOSize = pvdSize(pvd)

	for i := 0; i < isoMaxDescs; i++ {
		d := window(lead, isoPVDOffset+i*isoDescSize, isoDescSize)
		if len(d) < 0x4B || string(d[1:6]) != "CD001" {
			return
		}
		switch d[0] {
		case 0:
			if strings.HasPrefix(string(d[7:39]), elToritoID) {
				a.HasElTorito = true
				lba := binary.LittleEndian.Uint32(d[0x47:0x4B])
				a.BootCatalogLBA = &lba
				return
			}
		case 255:
			return
		}
	}
}

// pvdSize is volume space size times logical block size, when the
// descriptor is a Primary Volume Descriptor.
func pvdSize(pvd []byte) int64 {
	if len(pvd) < 130 || pvd[0] != 1 || string(pvd[1:6]) != "CD001" {
		return 0
	}
	blocks := binary.LittleEndian.Uint32(pvd[80:84])
	bs := binary.LittleEndian.Uint16(pvd[128:130])
	return int64(blocks) * int64(bs)
}

// ISOSize returns the filesystem size recorded in an ISO 9660 Primary
// Volume Descriptor, or 0 when r does not hold one.
func ISOSize(r io.ReaderAt) int64 {
	pvd, err := readAvailable(r, isoPVDOffset, isoDescSize)
	if err != nil {
		return 0
	}
	return pvdSize(pvd)
}

// readAvailable reads up to n bytes at off. Hitting the end of the device
// yields the bytes that exist.
func readAvailable(r io.ReaderAt, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := r.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		if got == 0 {
			return nil, err
		}
	}
	return buf[:got], nil
}

// window returns b[off:off+n] clipped to b, or nil.
func window(b []byte, off, n int) []byte {
	if off >= len(b) {
		return nil
	}
	return b[off:min(off+n, len(b))]
}

func asciiField(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}
