// Package forensic assembles a read-only forensic report of a device from
// the boot analysis, SMART telemetry, a checksummed leading range and the
// acquisition host.
package forensic

import (
	"time"

	"rawdiag/bootscan"
	"rawdiag/device"
	"rawdiag/smart"
)

// ChecksumRange is the prefix of the boot analysis leading range that is
// hashed and hex-dumped: the MBR sector and the primary GPT header.
const ChecksumRange = 1024

// Report is assembled once per run and not modified afterwards. Every
// section except Device may be missing.
type Report struct {
	ID         string             `json:"id"`
	CapturedAt time.Time          `json:"captured_at"`
	Device     device.Device      `json:"device"`
	Boot       *bootscan.Analysis `json:"boot,omitempty"`
	SMART      *smart.Record      `json:"smart,omitempty"`
	Partitions []Partition        `json:"partitions,omitempty"`
	Checksums  *Checksums         `json:"checksums,omitempty"`
	HexDump    string             `json:"hex_dump,omitempty"`
	Host       *Host              `json:"host,omitempty"`
	Notes      []string           `json:"notes,omitempty"`
}

// Partition merges MBR and GPT entries into one listing.
type Partition struct {
	Scheme     string `json:"scheme"`
	Number     int    `json:"number"`
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"`
	Offset     int64  `json:"offset"`
	Size       int64  `json:"size"`
	Bootable   bool   `json:"bootable,omitempty"`
	Filesystem string `json:"filesystem,omitempty"`
}

// Checksums of the first Length bytes of the device.
type Checksums struct {
	Length int64  `json:"length"`
	MD5    string `json:"md5"`
	SHA256 string `json:"sha256"`
}

// Host identifies the machine the report was taken on.
type Host struct {
	Hostname     string `json:"hostname,omitempty"`
	User         string `json:"user,omitempty"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Serial       string `json:"serial,omitempty"`
	UUID         string `json:"uuid,omitempty"`
}

func partitions(a *bootscan.Analysis, logical int) []Partition {
	if a == nil {
		return nil
	}
	bs := int64(logical)
	fsAt := map[int64]string{}
	for _, f := range a.Filesystems {
		fsAt[f.Offset] = f.Name
	}
	var out []Partition
	for _, e := range a.MBREntries {
		if e.Type == 0xEE && a.HasGPT {
			continue
		}
		off := int64(e.StartLBA) * bs
		out = append(out, Partition{
			Scheme:     "MBR",
			Number:     e.Number,
			Type:       e.TypeName,
			Offset:     off,
			Size:       int64(e.Sectors) * bs,
			Bootable:   e.Bootable,
			Filesystem: fsAt[off],
		})
	}
	if a.GPT != nil {
		for _, e := range a.GPT.Entries {
			off := int64(e.FirstLBA) * bs
			var size int64
			if e.LastLBA >= e.FirstLBA {
				size = int64(e.LastLBA-e.FirstLBA+1) * bs
			}
			out = append(out, Partition{
				Scheme:     "GPT",
				Number:     e.Number,
				Type:       e.TypeName,
				Name:       e.Name,
				Offset:     off,
				Size:       size,
				Filesystem: fsAt[off],
			})
		}
	}
	return out
}
