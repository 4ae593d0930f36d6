package command

import (
	"strings"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
)

// Zone lighting modes understood by the vehicle.
const (
	ZoneLightsAll       = "0"
	ZoneLightsFront     = "1"
	ZoneLightsRear      = "2"
	ZoneLightsDriver    = "3"
	ZoneLightsPassenger = "4"
)

const powerModeEvent = "pttb-power-mode-change-event"

// CurrentZoneLighting reads the active zone lighting mode from the power mode
// event of a state snapshot. It returns "" when the vehicle never reported one.
func CurrentZoneLighting(snapshot *state.Node) string {
	oem := snapshot.Path("events", "customEvents", powerModeEvent, "oemData")
	if oem.Len() == 0 {
		return ""
	}
	on := func(key string) bool {
		v, _ := oem.Path(key, "stringValue").Str()
		return strings.EqualFold(v, "on")
	}

	mode, ok := oem.Path("current_power_mode", "stringValue").Str()
	if !ok {
		return ""
	}
	if !strings.EqualFold(mode, "on") {
		return ZoneLightsOff
	}

	front, rear := on("zone_1_active_power_status"), on("zone_2_active_power_status")
	driver, passenger := on("zone_3_active_power_status"), on("zone_4_active_power_status")
	switch {
	case (front || rear) && (driver || passenger):
		return ZoneLightsAll
	case front:
		return ZoneLightsFront
	case rear:
		return ZoneLightsRear
	case driver:
		return ZoneLightsDriver
	case passenger:
		return ZoneLightsPassenger
	}
	return ""
}

// ValidZoneLighting reports whether v is a mode SetZoneLighting accepts.
func ValidZoneLighting(v string) bool {
	switch v {
	case ZoneLightsAll, ZoneLightsFront, ZoneLightsRear, ZoneLightsDriver, ZoneLightsPassenger, ZoneLightsOff:
		return true
	}
	return false
}
