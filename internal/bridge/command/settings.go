package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Charge setting keys accepted by updateChargeSettingsCommand.
const (
	SettingAutoChargePortUnlock = "autoChargePortUnlock"
	SettingChargeMode           = "chargeMode"
	SettingGlobalCurrentLimit   = "globalCurrentLimit"
	SettingGlobalDCPowerLimit   = "globalDCPowerLimit"
	SettingGlobalDCTargetSoc    = "globalDCTargetSoc"
	SettingGlobalReserveSoc     = "globalReserveSoc"
	SettingGlobalTargetSoc      = "globalTargetSoc"
)

var (
	numericSettings = []string{
		SettingGlobalCurrentLimit, SettingGlobalDCPowerLimit,
		SettingGlobalDCTargetSoc, SettingGlobalReserveSoc, SettingGlobalTargetSoc,
	}
	socSettings = []string{SettingGlobalDCTargetSoc, SettingGlobalReserveSoc, SettingGlobalTargetSoc}
	allSettings = append([]string{SettingAutoChargePortUnlock, SettingChargeMode}, numericSettings...)
)

func oneOf(key string, keys []string) bool {
	for _, k := range keys {
		if strings.EqualFold(key, k) {
			return true
		}
	}
	return false
}

// ChargeSettingsProperties builds the properties of an updateChargeSettings
// command. Numeric settings are sent as integers. A state-of-charge setting
// sets all three charge targets, and values below 80 are rounded down to
// tens.
func ChargeSettingsProperties(key string, value any) (map[string]any, error) {
	if !oneOf(key, allSettings) {
		return nil, fmt.Errorf("%w: unknown charge setting %q", ErrInvalidArgument, key)
	}

	settings := map[string]any{}
	switch {
	case oneOf(key, numericSettings):
		n, err := toInt(value)
		if err != nil {
			return nil, fmt.Errorf("%w: charge setting %s: %v", ErrInvalidArgument, key, err)
		}
		if oneOf(key, socSettings) {
			if n < 80 {
				n = n / 10 * 10
			}
			for _, k := range socSettings {
				settings[k] = n
			}
		} else {
			settings[key] = n
		}
	default:
		settings[key] = fmt.Sprint(value)
	}
	return map[string]any{"chargeSettings": settings}, nil
}

// toInt truncates a numeric value, or a string holding one, to an integer.
func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v)
		}
		return int(f), nil
	case fmt.Stringer:
		return toInt(v.String())
	}
	return 0, fmt.Errorf("not a number: %v", value)
}
