package engine

import (
	"fmt"
	"strings"
)

// Mode is the kind of work an Operation performs.
type Mode int

const (
	SurfaceScan Mode = iota
	FullTest
	SpeedTest
	SecureErase
	BootCheck
	ForensicAnalysis
	Backup
	Burn
)

var modeNames = map[Mode]string{
	SurfaceScan:      "surface-scan",
	FullTest:         "full-test",
	SpeedTest:        "speed-test",
	SecureErase:      "secure-erase",
	BootCheck:        "boot-check",
	ForensicAnalysis: "forensic",
	Backup:           "backup",
	Burn:             "burn",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Destructive reports whether the mode writes to the device.
func (m Mode) Destructive() bool {
	switch m {
	case FullTest, SpeedTest, SecureErase, Burn:
		return true
	}
	return false
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// State is an Operation's lifecycle state. Transitions only move forward.
type State int

const (
	Pending State = iota
	Running
	Cancelling
	Cancelled
	Succeeded
	Failed
)

var stateNames = [...]string{"pending", "running", "cancelling", "cancelled", "succeeded", "failed"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s is final.
func (s State) Terminal() bool { return s >= Cancelled }

// rank orders states for the monotonic transition check. All terminal
// states share the top rank.
func (s State) rank() int {
	if s.Terminal() {
		return 3
	}
	return int(s)
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(b))
}
