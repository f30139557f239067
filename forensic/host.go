package forensic

import (
	"os"
	"os/user"
	"runtime"
)

// LocalHost describes the running machine. Firmware identity comes from
// SMBIOS where the platform exposes it.
func LocalHost() *Host {
	h := &Host{OS: runtime.GOOS, Arch: runtime.GOARCH}
	h.Hostname, _ = os.Hostname()
	if u, err := user.Current(); err == nil {
		h.User = u.Username
	}
	firmwareIdentity(h)
	return h
}
