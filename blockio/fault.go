package blockio

// FaultKind classifies a SectorFault.
type FaultKind string

const (
	FaultRead           FaultKind = "read-error"
	FaultVerifyMismatch FaultKind = "verify-mismatch"
	FaultWrite          FaultKind = "write-error"
)

// SectorFault is one bad byte range found during an operation.
type SectorFault struct {
	Offset int64     `json:"offset"`
	Length int64     `json:"length"`
	Kind   FaultKind `json:"kind"`
}

// End returns the first offset past the fault.
func (f SectorFault) End() int64 { return f.Offset + f.Length }

// FaultLog is the append-only bad-sector record of one operation.
type FaultLog struct {
	faults []SectorFault
}

// Add appends a fault. Faults are never removed.
func (l *FaultLog) Add(off, length int64, kind FaultKind) {
	l.faults = append(l.faults, SectorFault{Offset: off, Length: length, Kind: kind})
}

func (l *FaultLog) Len() int { return len(l.faults) }

// Faults returns a copy of the full list.
func (l *FaultLog) Faults() []SectorFault {
	if len(l.faults) == 0 {
		return nil
	}
	out := make([]SectorFault, len(l.faults))
	copy(out, l.faults)
	return out
}

// Count returns the number of faults of the given kind.
func (l *FaultLog) Count(kind FaultKind) int {
	n := 0
	for _, f := range l.faults {
		if f.Kind == kind {
			n++
		}
	}
	return n
}
