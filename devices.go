package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rawdiag/device"
)

func (a *app) deviceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Device related utilities (safe, read-only)",
	}

	var listAll bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List removable devices usable as targets (read-only)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cands, err := device.List()
			if err != nil {
				return err
			}
			if a.emulated != nil {
				d, _ := a.emulated.Probe("emulated")
				cands = append([]device.Candidate{{Path: d.Path, Compatible: true, Device: d}}, cands...)
			}
			printCandidates(cands, listAll)
			printMounts()
			fmt.Println("Notes:")
			switch runtime.GOOS {
			case "darwin":
				fmt.Println("  - Whole disks are typically /dev/diskN; use /dev/rdiskN for faster raw access.")
			case "linux":
				fmt.Println("  - Whole disks: /dev/sdX, /dev/vdX, /dev/nvmeXnY, /dev/mmcblkX. Partitions are not targets.")
			case "windows":
				fmt.Println(`  - Pass physical drives as \\.\PhysicalDriveN. Volumes are locked and dismounted before writing.`)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&listAll, "all", false, "include fixed disks, partitions and virtual devices")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "info <mountpoint|device>",
		Short: "Show detailed info about a mount point or device (read-only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var prober device.Prober = device.SystemProber{}
			dev, mnt, whole := args[0], "", args[0]
			if a.emulated != nil {
				prober = a.emulated
			} else {
				var err error
				if dev, mnt, err = device.Resolve(args[0]); err != nil {
					return err
				}
				whole = device.WholeDisk(dev)
			}
			d, err := prober.Probe(whole)
			if err != nil {
				return err
			}
			printInfo(args[0], dev, mnt, d)
			return nil
		},
	})
	return cmd
}

func printCandidates(cands []device.Candidate, all bool) {
	fmt.Printf("OS: %s\n", runtime.GOOS)
	fmt.Println("This is a SAFE, read-only listing.")
	fmt.Println()
	fmt.Println("Removable devices:")
	fmt.Printf("  %-18s  %-24s  %-20s  %9s\n", "Path", "Model", "Serial", "Size")
	printed := false
	for _, c := range cands {
		if !c.Compatible {
			continue
		}
		d := c.Device
		fmt.Printf("  %-18s  %-24s  %-20s  %9s\n", c.Path, d.Describe(), orDash(d.Serial), sizeLabel(d.Capacity))
		printed = true
	}
	if !printed {
		fmt.Println("  <none detected>")
	}
	fmt.Println()
	if !all {
		return
	}
	fmt.Println("Other devices (not offered as targets):")
	for _, c := range cands {
		if c.Compatible {
			continue
		}
		reason := c.Reason
		if strings.TrimSpace(reason) == "" {
			reason = "not a whole removable disk"
		}
		fmt.Printf("  %s  (%s)\n", c.Path, reason)
	}
	fmt.Println()
}

func printMounts() {
	mounts, err := device.Mounts()
	if err != nil || len(mounts) == 0 {
		return
	}
	fmt.Println("Mounted volumes:")
	fmt.Printf("  %-24s  %-14s  %-18s  %9s\n", "Mount", "FS", "Device", "Size")
	for _, m := range mounts {
		if !strings.HasPrefix(m.Source, "/dev/") && !strings.HasPrefix(m.Source, `\\.\`) {
			continue
		}
		fmt.Printf("  %-24s  %-14s  %-18s  %9s\n", m.Target, m.FSType, m.Source, sizeLabel(m.Size))
	}
	fmt.Println()
}

func printInfo(input, dev, mnt string, d device.Device) {
	fmt.Println("Path info")
	fmt.Printf("  Input:     %s\n", input)
	fmt.Printf("  Device:    %s\n", dev)
	if mnt != "" {
		fmt.Printf("  Mounted:   %s\n", mnt)
	}
	fmt.Printf("  Whole:     %s\n", d.Path)
	fmt.Printf("  Size:      %s (%s bytes)\n", sizeLabel(d.Capacity), humanize.Comma(d.Capacity))
	fmt.Printf("  Sectors:   %s x %d bytes (physical %d)\n", humanize.Comma(d.Sectors()), d.LogicalBlockSize, d.PhysicalBlockSize)
	fmt.Printf("  Model:     %s\n", d.Describe())
	if d.Serial != "" {
		fmt.Printf("  Serial:    %s\n", d.Serial)
	}
	if d.WWN != "" {
		fmt.Printf("  WWN:       %s\n", d.WWN)
	}
	if d.Bus != "" {
		fmt.Printf("  Bus:       %s\n", d.Bus)
	}
	fmt.Printf("  Removable: %t\n", d.Removable)
	if typ := mediaTypeBySize(d.Capacity); typ != "" {
		fmt.Printf("  Media:     %s\n", typ)
	}
}

func sizeLabel(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

// mediaTypeBySize names standard floppy capacities.
func mediaTypeBySize(size int64) string {
	switch size {
	case 360 * 1024:
		return "360K floppy"
	case 720 * 1024:
		return "720K floppy"
	case 1200 * 1024:
		return "1.2M floppy"
	case 1440 * 1024:
		return "1.44M floppy"
	case 2880 * 1024:
		return "2.88M floppy"
	}
	return ""
}
