package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"rawdiag/bootscan"
	"rawdiag/engine"
	"rawdiag/forensic"
	"rawdiag/smart"
)

// colKey is the visual width of the label column.
const colKey = 22

type kv struct {
	Key string
	Val string
}

// styledPad pads a styled string to width, counting visible cells only.
func styledPad(styled string, width int) string {
	visW := lipgloss.Width(styled)
	if visW >= width {
		return styled
	}
	return styled + strings.Repeat(" ", width-visW)
}

func writeKV(sb *strings.Builder, rows []kv) {
	for _, r := range rows {
		sb.WriteString("  " + styledPad(labelStyle.Render(r.Key+":"), colKey) + " " + valueStyle.Render(r.Val) + "\n")
	}
}

func writeSection(sb *strings.Builder, title string) {
	sb.WriteString(sectionStyle.Render(title) + "\n")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func size(n int64) string {
	return fmt.Sprintf("%s (%s bytes)", humanize.IBytes(uint64(max(n, 0))), humanize.Comma(n))
}

func optString(p *string) string {
	if p == nil || *p == "" {
		return "-"
	}
	return *p
}

func optUint(p *uint64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatUint(*p, 10)
}

// Render lays a forensic report out as a text document.
func Render(r *forensic.Report) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("rawdiag forensic report") + "\n")
	writeKV(&sb, []kv{
		{"Report ID", r.ID},
		{"Captured", r.CapturedAt.UTC().Format(time.RFC3339)},
	})

	writeSection(&sb, "Device")
	d := r.Device
	rows := []kv{
		{"Path", d.Path},
		{"Description", d.Describe()},
		{"Capacity", size(d.Capacity)},
		{"Sectors", humanize.Comma(d.Sectors())},
		{"Block size", fmt.Sprintf("%d logical / %d physical", d.LogicalBlockSize, d.PhysicalBlockSize)},
		{"Removable", yesNo(d.Removable)},
	}
	if d.Serial != "" {
		rows = append(rows, kv{"Serial", d.Serial})
	}
	if d.ID != "" && d.ID != d.Path {
		rows = append(rows, kv{"Identifier", d.ID})
	}
	writeKV(&sb, rows)

	writeBoot(&sb, r.Boot)
	writePartitions(&sb, r.Partitions)
	writeSMART(&sb, r.SMART)

	writeSection(&sb, "Checksums")
	if c := r.Checksums; c != nil {
		writeKV(&sb, []kv{
			{"Range", fmt.Sprintf("first %d bytes", c.Length)},
			{"MD5", c.MD5},
			{"SHA-256", c.SHA256},
		})
	} else {
		sb.WriteString("  not available\n")
	}
	if r.HexDump != "" {
		writeSection(&sb, "Hex dump")
		sb.WriteString(dumpStyle.Render(strings.TrimRight(r.HexDump, "\n")) + "\n")
	}

	if h := r.Host; h != nil {
		writeSection(&sb, "Acquisition host")
		hrows := []kv{{"Hostname", h.Hostname}, {"User", h.User}, {"Platform", h.OS + "/" + h.Arch}}
		if h.Manufacturer != "" || h.Product != "" {
			hrows = append(hrows, kv{"System", strings.TrimSpace(h.Manufacturer + " " + h.Product)})
		}
		if h.Serial != "" {
			hrows = append(hrows, kv{"System serial", h.Serial})
		}
		if h.UUID != "" {
			hrows = append(hrows, kv{"System UUID", h.UUID})
		}
		writeKV(&sb, hrows)
	}

	if len(r.Notes) > 0 {
		writeSection(&sb, "Notes")
		for _, n := range r.Notes {
			sb.WriteString("  " + warnStyle.Render("- "+n) + "\n")
		}
	}
	return sb.String()
}

func writeBoot(sb *strings.Builder, a *bootscan.Analysis) {
	writeSection(sb, "Boot structures")
	if a == nil {
		sb.WriteString("  not available\n")
		return
	}
	verdict := warnStyle.Render(a.Verdict)
	if a.Bootable {
		verdict = okStyle.Render(a.Verdict)
	}
	sb.WriteString("  " + styledPad(labelStyle.Render("Verdict:"), colKey) + " " + verdict + "\n")

	gpt := yesNo(a.HasGPT)
	if a.GPTDiskGUID != nil {
		gpt += ", disk GUID " + *a.GPTDiskGUID
	}
	if a.GPT != nil && a.GPT.BackupConfirmed != nil {
		gpt += ", backup header " + map[bool]string{true: "present", false: "missing"}[*a.GPT.BackupConfirmed]
	}
	iso := yesNo(a.IsISO9660)
	if a.ISOVolumeLabel != nil {
		iso += ", label " + *a.ISOVolumeLabel
	}
	if a.ISOSize > 0 {
		iso += ", " + humanize.IBytes(uint64(a.ISOSize))
	}
	torito := yesNo(a.HasElTorito)
	if a.BootCatalogLBA != nil {
		torito += fmt.Sprintf(", catalog at LBA %d", *a.BootCatalogLBA)
	}
	writeKV(sb, []kv{
		{"MBR signature", yesNo(a.HasMBRSignature)},
		{"GPT", gpt},
		{"ISO 9660", iso},
		{"El Torito", torito},
		{"EFI system partition", yesNo(a.HasEFI)},
		{"Active boot flag", yesNo(a.HasBootFlag)},
	})
	for _, fs := range a.Filesystems {
		line := fmt.Sprintf("%s at offset %d", fs.Name, fs.Offset)
		if fs.Label != "" {
			line += fmt.Sprintf(" label %q", fs.Label)
		}
		if fs.Size > 0 {
			line += ", " + humanize.IBytes(uint64(fs.Size))
		}
		writeKV(sb, []kv{{"Filesystem", line}})
	}
}

func writePartitions(sb *strings.Builder, parts []forensic.Partition) {
	writeSection(sb, "Partitions")
	if len(parts) == 0 {
		sb.WriteString("  none\n")
		return
	}
	sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-4s %-6s %-28s %14s %12s  %-10s %s", "#", "Scheme", "Type", "Offset", "Size", "Filesystem", "Flags")) + "\n")
	for _, p := range parts {
		flags := ""
		if p.Bootable {
			flags = "boot"
		}
		typ := p.Type
		if p.Name != "" {
			typ += " (" + p.Name + ")"
		}
		sb.WriteString(valueStyle.Render(fmt.Sprintf("  %-4d %-6s %-28s %14d %12s  %-10s %s",
			p.Number, p.Scheme, typ, p.Offset, humanize.IBytes(uint64(max(p.Size, 0))), p.Filesystem, flags)) + "\n")
	}
}

func writeSMART(sb *strings.Builder, rec *smart.Record) {
	writeSection(sb, "SMART")
	switch {
	case rec == nil:
		sb.WriteString("  not queried\n")
		return
	case !rec.Available:
		sb.WriteString("  " + warnStyle.Render(rec.Message) + "\n")
		return
	}
	health := string(rec.Health)
	switch rec.Health {
	case smart.HealthPassed:
		health = okStyle.Render(health)
	case smart.HealthFailed:
		health = critStyle.Render(health)
	}
	sb.WriteString("  " + styledPad(labelStyle.Render("Health:"), colKey) + " " + health + "\n")

	temp := "-"
	if rec.TemperatureC != nil {
		temp = fmt.Sprintf("%d C", *rec.TemperatureC)
	}
	writeKV(sb, []kv{
		{"Source", string(rec.Source)},
		{"Model", optString(rec.Model)},
		{"Serial", optString(rec.Serial)},
		{"Firmware", optString(rec.Firmware)},
		{"Interface", optString(rec.Interface)},
		{"Temperature", temp},
		{"Power-on hours", optUint(rec.PowerOnHours)},
		{"Power cycles", optUint(rec.PowerCycles)},
		{"Reallocated sectors", optUint(rec.ReallocatedSectors)},
		{"Pending sectors", optUint(rec.PendingSectors)},
		{"Uncorrectable", optUint(rec.UncorrectableSectors)},
		{"Self-test", optString(rec.SelfTestStatus)},
	})
	for _, w := range rec.Warnings {
		sb.WriteString("  " + critStyle.Render("WARNING: "+w) + "\n")
	}
	if len(rec.Attributes) > 0 {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %3s %-28s %5s %5s %5s %12s", "ID", "Attribute", "Value", "Worst", "Thr", "Raw")) + "\n")
		for _, a := range rec.Attributes {
			sb.WriteString(valueStyle.Render(fmt.Sprintf("  %3d %-28s %5s %5s %5s %12d",
				a.ID, a.Name, optInt(a.Value), optInt(a.Worst), optInt(a.Threshold), a.Raw)) + "\n")
		}
	}
}

func optInt(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

// RenderResult summarises a finished operation. At most maxFaults faults are
// listed.
func RenderResult(res engine.Result, maxFaults int) string {
	var sb strings.Builder
	title := fmt.Sprintf("%s on %s", res.Mode, res.Device.Path)
	sb.WriteString(titleStyle.Render(title) + "\n")

	state := res.Message
	switch res.State {
	case engine.Succeeded:
		state = okStyle.Render(state)
	case engine.Cancelled:
		state = warnStyle.Render(state)
	case engine.Failed:
		state = critStyle.Render(state)
	}
	sb.WriteString("  " + styledPad(labelStyle.Render("Result:"), colKey) + " " + state + "\n")

	rows := []kv{{"Elapsed", res.Duration().Round(time.Second).String()}}
	if res.Sectors > 0 {
		rows = append(rows, kv{"Sectors checked", humanize.Comma(res.Sectors)})
	}
	if res.Pattern != "" {
		rows = append(rows, kv{"Pattern", fmt.Sprintf("%s (table %s, %d passes complete)", res.Pattern, res.PatternVersion, res.Passes)})
	}
	if res.ReadMBps > 0 {
		rows = append(rows, kv{"Read", fmt.Sprintf("%.1f MB/s", res.ReadMBps)})
	}
	if res.WriteMBps > 0 {
		rows = append(rows, kv{"Write", fmt.Sprintf("%.1f MB/s", res.WriteMBps)})
	}
	if c := res.Copy; c != nil {
		rows = append(rows, kv{"Copied", size(c.Bytes)})
		if c.ISO {
			rows = append(rows, kv{"ISO 9660", "copied up to the filesystem size"})
		}
		if c.Verified {
			rows = append(rows, kv{"Verified", "yes"})
		}
	}
	writeKV(&sb, rows)

	if len(res.Speed) > 0 {
		writeSection(&sb, "Speed")
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-8s %6s %12s %12s", "Block", "Count", "Write MB/s", "Read MB/s")) + "\n")
		for _, row := range res.Speed {
			line := fmt.Sprintf("  %-8s %6d %12.1f %12.1f", humanize.IBytes(uint64(row.BlockSize)), row.Count, row.WriteMBps, row.ReadMBps)
			if row.Error != "" {
				line += "  " + row.Error
			}
			sb.WriteString(valueStyle.Render(line) + "\n")
		}
	}

	if len(res.Faults) > 0 {
		writeSection(&sb, fmt.Sprintf("Faults (%d)", len(res.Faults)))
		shown, more := res.DisplayFaults(maxFaults)
		for _, f := range shown {
			sb.WriteString("  " + critStyle.Render(fmt.Sprintf("%-16s offset %d (sector %d, %s)", f.Kind, f.Offset, f.Offset/int64(max(res.Device.LogicalBlockSize, 1)), humanize.IBytes(uint64(f.Length)))) + "\n")
		}
		if more > 0 {
			sb.WriteString(labelStyle.Render(fmt.Sprintf("  ... and %d more", more)) + "\n")
		}
	}

	if res.Boot != nil {
		writeBoot(&sb, res.Boot)
	}
	return sb.String()
}

// RenderSMART formats a standalone SMART query of path.
func RenderSMART(path string, rec *smart.Record) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("SMART for "+path) + "\n")
	writeSMART(&sb, rec)
	return sb.String()
}
