// Package smart normalises SMART telemetry from smartctl (JSON or text) and
// diskutil into one Record. Fields a source did not report stay nil.
package smart

import (
	"fmt"
	"strings"
)

// Source records where a Record came from.
type Source string

const (
	SourceNone         Source = "none"
	SourceSmartctlJSON Source = "smartctl-json"
	SourceSmartctlText Source = "smartctl-text"
	SourceDiskutil     Source = "diskutil"
)

// Health is the classified overall self-assessment.
type Health string

const (
	HealthPassed        Health = "passed"
	HealthFailed        Health = "failed"
	HealthInformational Health = "informational"
)

// Record is the canonical SMART snapshot. Pointer fields are nil when the
// source did not supply them; a reported zero stays zero.
type Record struct {
	Available  bool   `json:"available"`
	Source     Source `json:"source"`
	Message    string `json:"message,omitempty"`
	Health     Health `json:"health"`
	HealthText string `json:"health_text,omitempty"`

	DeviceType     *string `json:"device_type,omitempty"`
	Interface      *string `json:"interface,omitempty"`
	Model          *string `json:"model,omitempty"`
	Serial         *string `json:"serial,omitempty"`
	Firmware       *string `json:"firmware,omitempty"`
	CapacityBytes  *int64  `json:"capacity_bytes,omitempty"`
	SmartSupported *bool   `json:"smart_supported,omitempty"`
	SmartEnabled   *bool   `json:"smart_enabled,omitempty"`

	TemperatureC *int    `json:"temperature_c,omitempty"`
	PowerOnHours *uint64 `json:"power_on_hours,omitempty"`
	PowerCycles  *uint64 `json:"power_cycles,omitempty"`

	ReallocatedSectors   *uint64 `json:"reallocated_sectors,omitempty"`
	PendingSectors       *uint64 `json:"pending_sectors,omitempty"`
	UncorrectableSectors *uint64 `json:"uncorrectable_sectors,omitempty"`
	ReportedUncorrect    *uint64 `json:"reported_uncorrect,omitempty"`
	ReallocationEvents   *uint64 `json:"reallocation_events,omitempty"`

	SelfTestStatus *string `json:"self_test_status,omitempty"`
	SelfTestPassed *bool   `json:"self_test_passed,omitempty"`

	Attributes []Attribute `json:"attributes_table,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Attribute is one row of the vendor attribute table.
type Attribute struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Value      *int   `json:"value,omitempty"`
	Worst      *int   `json:"worst,omitempty"`
	Threshold  *int   `json:"threshold,omitempty"`
	Raw        uint64 `json:"raw"`
	RawString  string `json:"raw_string,omitempty"`
	Flags      string `json:"flags,omitempty"`
	Prefailure bool   `json:"prefailure"`
	WhenFailed string `json:"when_failed,omitempty"`
	Status     string `json:"status"`
}

// Attribute IDs with a meaning of their own.
const (
	attrReallocated       = 5
	attrPowerOnHours      = 9
	attrPowerCycles       = 12
	attrReportedUncorrect = 187
	attrAirflowTemp       = 190
	attrTemperature       = 194
	attrReallocEvents     = 196
	attrPending           = 197
	attrUncorrectable     = 198
)

// ClassifyHealth maps the phrasings smartctl and diskutil use to a Health.
func ClassifyHealth(s string) Health {
	u := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case u == "":
		return HealthInformational
	case strings.Contains(u, "FAIL"):
		return HealthFailed
	case strings.Contains(u, "PASSED"), strings.Contains(u, "VERIFIED"):
		return HealthPassed
	}
	for _, f := range strings.Fields(u) {
		if f == "OK" {
			return HealthPassed
		}
	}
	return HealthInformational
}

func ptr[T any](v T) *T { return &v }

// applyAttributes lifts well-known attribute rows into Record fields and
// marks critical rows with a non-zero raw value.
func (r *Record) applyAttributes() {
	for i := range r.Attributes {
		a := &r.Attributes[i]
		a.Status = "ok"
		raw := a.Raw
		switch a.ID {
		case attrReallocated:
			r.ReallocatedSectors = ptr(raw)
		case attrPending:
			r.PendingSectors = ptr(raw)
		case attrUncorrectable:
			r.UncorrectableSectors = ptr(raw)
		case attrReportedUncorrect:
			r.ReportedUncorrect = ptr(raw)
		case attrReallocEvents:
			r.ReallocationEvents = ptr(raw)
		case attrPowerOnHours:
			if r.PowerOnHours == nil {
				r.PowerOnHours = ptr(raw)
			}
		case attrPowerCycles:
			if r.PowerCycles == nil {
				r.PowerCycles = ptr(raw)
			}
		case attrTemperature, attrAirflowTemp:
			if r.TemperatureC == nil {
				r.TemperatureC = ptr(int(raw & 0xFF))
			}
		}
		if critical(a.ID) && raw > 0 {
			a.Status = "warning"
		}
	}
}

func critical(id int) bool {
	switch id {
	case attrReallocated, attrReportedUncorrect, attrReallocEvents, attrPending, attrUncorrectable:
		return true
	}
	return false
}

// warn fills Warnings from the sector-health counters and the health verdict.
func (r *Record) warn() {
	r.Warnings = nil
	add := func(v *uint64, what string) {
		if v != nil && *v > 0 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%d %s", *v, what))
		}
	}
	add(r.ReallocatedSectors, "reallocated sectors")
	add(r.PendingSectors, "pending sectors")
	add(r.UncorrectableSectors, "uncorrectable sectors")
	add(r.ReportedUncorrect, "reported uncorrectable errors")
	add(r.ReallocationEvents, "reallocation events")
	if r.Health == HealthFailed {
		r.Warnings = append(r.Warnings, "overall health self-assessment failed")
	}
}
