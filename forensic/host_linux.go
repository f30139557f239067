//go:build linux

package forensic

import (
	"strings"

	"github.com/siderolabs/go-smbios/smbios"
)

func firmwareIdentity(h *Host) {
	sm, err := smbios.New()
	if err != nil {
		return
	}
	si := sm.SystemInformation
	h.Manufacturer = strings.TrimSpace(si.Manufacturer)
	h.Product = strings.TrimSpace(si.ProductName)
	h.Serial = strings.TrimSpace(si.SerialNumber)
	h.UUID = strings.TrimSpace(si.UUID)
}
