package smart

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoData means the input held nothing this package could use.
var ErrNoData = errors.New("no SMART data in output")

type smartctlJSON struct {
	Smartctl struct {
		ExitStatus int `json:"exit_status"`
		Messages   []struct {
			String   string `json:"string"`
			Severity string `json:"severity"`
		} `json:"messages"`
	} `json:"smartctl"`
	Device *struct {
		Type     string `json:"type"`
		Protocol string `json:"protocol"`
	} `json:"device"`
	ModelName       *string `json:"model_name"`
	SerialNumber    *string `json:"serial_number"`
	FirmwareVersion *string `json:"firmware_version"`
	UserCapacity    *struct {
		Bytes int64 `json:"bytes"`
	} `json:"user_capacity"`
	SmartSupport *struct {
		Available bool `json:"available"`
		Enabled   bool `json:"enabled"`
	} `json:"smart_support"`
	SmartStatus *struct {
		Passed *bool `json:"passed"`
	} `json:"smart_status"`
	Temperature *struct {
		Current *int `json:"current"`
	} `json:"temperature"`
	PowerOnTime *struct {
		Hours *uint64 `json:"hours"`
	} `json:"power_on_time"`
	PowerCycleCount *uint64 `json:"power_cycle_count"`
	ATAData         *struct {
		SelfTest *struct {
			Status *struct {
				String string `json:"string"`
				Passed *bool  `json:"passed"`
			} `json:"status"`
		} `json:"self_test"`
	} `json:"ata_smart_data"`
	ATAAttributes *struct {
		Table []struct {
			ID         int    `json:"id"`
			Name       string `json:"name"`
			Value      *int   `json:"value"`
			Worst      *int   `json:"worst"`
			Thresh     *int   `json:"thresh"`
			WhenFailed string `json:"when_failed"`
			Flags      struct {
				String     string `json:"string"`
				Prefailure bool   `json:"prefailure"`
			} `json:"flags"`
			Raw struct {
				Value  uint64 `json:"value"`
				String string `json:"string"`
			} `json:"raw"`
		} `json:"table"`
	} `json:"ata_smart_attributes"`
	NVMeLog *struct {
		Temperature  *int    `json:"temperature"`
		PowerCycles  *uint64 `json:"power_cycles"`
		PowerOnHours *uint64 `json:"power_on_hours"`
		MediaErrors  *uint64 `json:"media_errors"`
	} `json:"nvme_smart_health_information_log"`
}

// ParseJSON reads `smartctl -a -j` output.
func ParseJSON(data []byte) (Record, error) {
	var in smartctlJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return Record{}, fmt.Errorf("decode smartctl json: %w", err)
	}
	if in.Device == nil || in.Device.Type == "unknown" {
		msg := "device type unknown"
		for _, m := range in.Smartctl.Messages {
			if m.Severity == "error" {
				msg = m.String
				break
			}
		}
		return Record{}, fmt.Errorf("%w: %s", ErrNoData, msg)
	}

	r := Record{Available: true, Source: SourceSmartctlJSON, Health: HealthInformational}
	r.DeviceType = ptr(in.Device.Type)
	if in.Device.Protocol != "" {
		r.Interface = ptr(in.Device.Protocol)
	}
	r.Model, r.Serial, r.Firmware = in.ModelName, in.SerialNumber, in.FirmwareVersion
	if in.UserCapacity != nil {
		r.CapacityBytes = ptr(in.UserCapacity.Bytes)
	}
	if in.SmartSupport != nil {
		r.SmartSupported = ptr(in.SmartSupport.Available)
		r.SmartEnabled = ptr(in.SmartSupport.Enabled)
	}
	if in.SmartStatus != nil && in.SmartStatus.Passed != nil {
		if *in.SmartStatus.Passed {
			r.Health, r.HealthText = HealthPassed, "PASSED"
		} else {
			r.Health, r.HealthText = HealthFailed, "FAILED"
		}
	}
	if in.Temperature != nil {
		r.TemperatureC = in.Temperature.Current
	}
	if in.PowerOnTime != nil {
		r.PowerOnHours = in.PowerOnTime.Hours
	}
	r.PowerCycles = in.PowerCycleCount
	if in.ATAData != nil && in.ATAData.SelfTest != nil && in.ATAData.SelfTest.Status != nil {
		r.SelfTestStatus = ptr(in.ATAData.SelfTest.Status.String)
		r.SelfTestPassed = in.ATAData.SelfTest.Status.Passed
	}
	if n := in.NVMeLog; n != nil {
		if r.TemperatureC == nil {
			r.TemperatureC = n.Temperature
		}
		if r.PowerCycles == nil {
			r.PowerCycles = n.PowerCycles
		}
		if r.PowerOnHours == nil {
			r.PowerOnHours = n.PowerOnHours
		}
		r.UncorrectableSectors = n.MediaErrors
	}
	if in.ATAAttributes != nil {
		for _, a := range in.ATAAttributes.Table {
			r.Attributes = append(r.Attributes, Attribute{
				ID:         a.ID,
				Name:       a.Name,
				Value:      a.Value,
				Worst:      a.Worst,
				Threshold:  a.Thresh,
				Raw:        a.Raw.Value,
				RawString:  a.Raw.String,
				Flags:      a.Flags.String,
				Prefailure: a.Flags.Prefailure,
				WhenFailed: a.WhenFailed,
			})
		}
	}
	r.applyAttributes()
	r.warn()
	return r, nil
}

// ParseText reads `smartctl -H -A` output. The attribute table columns are
// ID# ATTRIBUTE_NAME FLAG VALUE WORST THRESH TYPE UPDATED WHEN_FAILED RAW_VALUE.
func ParseText(out string) (Record, error) {
	r := Record{Available: true, Source: SourceSmartctlText, Health: HealthInformational}
	inTable := false
	found := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "SMART overall-health self-assessment test result:"),
			strings.HasPrefix(line, "SMART Health Status:"):
			v := strings.TrimSpace(line[strings.IndexByte(line, ':')+1:])
			r.HealthText, r.Health = v, ClassifyHealth(v)
			found = true
		case strings.HasPrefix(line, "Current Drive Temperature:"):
			f := strings.Fields(strings.TrimPrefix(line, "Current Drive Temperature:"))
			if len(f) > 0 {
				if t, err := strconv.Atoi(f[0]); err == nil {
					r.TemperatureC = ptr(t)
				}
			}
		case strings.HasPrefix(line, "ID#"):
			inTable = true
		case line == "":
			inTable = false
		case inTable:
			if a, ok := parseAttrLine(line); ok {
				r.Attributes = append(r.Attributes, a)
				found = true
			}
		}
	}
	if !found {
		return Record{}, ErrNoData
	}
	r.applyAttributes()
	r.warn()
	return r, nil
}

func parseAttrLine(line string) (Attribute, bool) {
	f := strings.Fields(line)
	if len(f) < 10 {
		return Attribute{}, false
	}
	id, err := strconv.Atoi(f[0])
	if err != nil {
		return Attribute{}, false
	}
	num := func(s string) *int {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		return &v
	}
	rawStr := strings.Join(f[9:], " ")
	a := Attribute{
		ID:         id,
		Name:       f[1],
		Flags:      f[2],
		Value:      num(f[3]),
		Worst:      num(f[4]),
		Threshold:  num(f[5]),
		Prefailure: f[6] == "Pre-fail",
		RawString:  rawStr,
	}
	if f[8] != "-" {
		a.WhenFailed = f[8]
	}
	if v, err := strconv.ParseUint(f[9], 10, 64); err == nil {
		a.Raw = v
	}
	return a, true
}

// ParseDiskutil reads the "SMART Status:" line of `diskutil info`.
func ParseDiskutil(out string) (Record, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "SMART Status:") {
			continue
		}
		v := strings.TrimSpace(strings.TrimPrefix(line, "SMART Status:"))
		if strings.Contains(strings.ToLower(v), "not supported") {
			return Record{}, fmt.Errorf("%w: diskutil reports SMART not supported", ErrNoData)
		}
		r := Record{
			Available:  true,
			Source:     SourceDiskutil,
			Health:     ClassifyHealth(v),
			HealthText: v,
			Message:    "only the basic SMART status is available; install smartmontools for attributes",
		}
		r.warn()
		return r, nil
	}
	return Record{}, ErrNoData
}

var unsupportedMarkers = []string{
	"Unknown USB bridge",
	"Device type: unknown",
	"Unable to detect device type",
	"SMART support is: Unavailable",
	"Device does not support SMART",
}

// Precheck inspects `smartctl -i` output and returns an error when the
// device or its USB bridge cannot pass SMART commands through.
func Precheck(info string) error {
	for _, m := range unsupportedMarkers {
		if strings.Contains(info, m) {
			return fmt.Errorf("%w: %s", ErrNoData, m)
		}
	}
	if !strings.Contains(info, "SMART support is:") && !strings.Contains(info, "SMART Health Status") {
		return fmt.Errorf("%w: smartctl reports no SMART capability", ErrNoData)
	}
	return nil
}
