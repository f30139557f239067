//go:build !linux

package forensic

// SMBIOS tables are only read on Linux.
func firmwareIdentity(*Host) {}
