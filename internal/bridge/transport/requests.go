package transport

import (
	"fmt"
	"net/http"
	"net/url"
)

// Family selects the credential a request is authorized with.
type Family int

const (
	// FamilyFord is authorized with the primary token in the auth-token header.
	FamilyFord Family = iota
	// FamilyAutonomic is authorized with the relay token as a bearer.
	FamilyAutonomic
)

func (f Family) String() string {
	if f == FamilyAutonomic {
		return "relay"
	}
	return "primary"
}

// Call is a vendor request before credentials are attached.
type Call struct {
	Family Family
	Method string
	URL    string
	Body   any
	// Header holds per-call additions to the API preset.
	Header http.Header
}

// Build attaches the API header preset and token to call.
func (c *Client) Build(call *Call, token string) (*Request, error) {
	req, err := c.newJSONRequest(call.Method, call.URL, call.Body)
	if err != nil {
		return nil, err
	}
	for k, vs := range call.Header {
		req.Header[k] = vs
	}
	switch call.Family {
	case FamilyAutonomic:
		SetRelayAuth(req.Header, token)
	default:
		SetPrimaryAuth(req.Header, token)
	}
	return req, nil
}

func header(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

// StatusCall fetches the full telemetry document of vin.
func (c *Client) StatusCall(vin string) *Call {
	q := url.Values{}
	q.Set("lrdt", "01-01-1970 00:00:00")
	return &Call{
		Family: FamilyAutonomic,
		Method: http.MethodGet,
		URL:    fmt.Sprintf("%s/telemetry/sources/fordpass/vehicles/%s?%s", c.endpoints.Autonomic, url.PathEscape(vin), q.Encode()),
	}
}

// StreamURL returns the telemetry websocket of vin.
func (c *Client) StreamURL(vin string) string {
	return fmt.Sprintf("%s/telemetry/sources/fordpass/vehicles/%s/ws", c.endpoints.AutonomicStream, url.PathEscape(vin))
}

// MessagesCall lists the message center.
func (c *Client) MessagesCall() *Call {
	return &Call{Family: FamilyFord, Method: http.MethodGet, URL: c.endpoints.Foundational + "/messagecenter/v3/messages"}
}

// DeleteMessagesCall removes messages by id.
func (c *Client) DeleteMessagesCall(ids []string) *Call {
	return &Call{
		Family: FamilyFord,
		Method: http.MethodDelete,
		URL:    c.endpoints.Foundational + "/messagecenter/v3/user/messages",
		Body:   map[string][]string{"messageIds": ids},
	}
}

// VehiclesCall fetches the garage dashboard with every vehicle profile.
func (c *Client) VehiclesCall() *Call {
	return &Call{
		Family: FamilyFord,
		Method: http.MethodPost,
		URL:    c.endpoints.Vehicle + "/expdashboard/v1/details/",
		Body:   map[string]string{"dashboardRefreshRequest": "All"},
		Header: header(headerCountryCode, c.region.CountryCode, headerLocale, c.region.Locale),
	}
}

// RemoteClimateCall fetches the remote climate profiles of vin.
func (c *Client) RemoteClimateCall(vin string) *Call {
	return &Call{
		Family: FamilyFord,
		Method: http.MethodPost,
		URL:    c.endpoints.Vehicle + "/rcc/profile/status",
		Body:   map[string]string{"vin": vin},
	}
}

// PreferredChargeTimesCall fetches the charge locations and schedules.
func (c *Client) PreferredChargeTimesCall(vin string) *Call {
	return &Call{
		Family: FamilyFord,
		Method: http.MethodGet,
		URL:    c.endpoints.Vehicle + "/electrification/experiences/v2/vehicles/preferred-charge-times",
		Header: header(headerVIN, vin),
	}
}

// EnergyTransferStatusCall fetches the current energy transfer status.
func (c *Client) EnergyTransferStatusCall(vin string) *Call {
	return &Call{
		Family: FamilyFord,
		Method: http.MethodGet,
		URL:    c.endpoints.Vehicle + "/electrification/experiences/v2/devices/energy-transfer-status",
		Header: header(headerDeviceID, vin),
	}
}

// EnergyTransferLogsCall fetches the most recent energy transfer log entry.
func (c *Client) EnergyTransferLogsCall(vin string) *Call {
	return &Call{
		Family: FamilyFord,
		Method: http.MethodGet,
		URL:    c.endpoints.Vehicle + "/electrification/experiences/v2/devices/energy-transfer-logs?maxRecords=1",
		Header: header(headerDeviceID, vin),
	}
}

// AutonomicCommand is the body of a telemetry command.
type AutonomicCommand struct {
	Properties map[string]any    `json:"properties"`
	Tags       map[string]string `json:"tags"`
	Type       string            `json:"type"`
	Version    string            `json:"version,omitempty"`
	WakeUp     bool              `json:"wakeUp"`
}

// DefaultCommandVersion is the body version of v1beta commands.
const DefaultCommandVersion = "1.0.0"

// AutonomicCommandCall submits a telemetry command. beta selects the v1beta
// API, which is the only one that accepts a version.
func (c *Client) AutonomicCommandCall(vin, command string, properties map[string]any, beta bool, version string) *Call {
	base := c.endpoints.Autonomic
	switch {
	case !beta:
		version = ""
	case version == "":
		version = DefaultCommandVersion
	}
	if beta {
		base = c.endpoints.AutonomicBeta
	}
	if properties == nil {
		properties = map[string]any{}
	}
	return &Call{
		Family: FamilyAutonomic,
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/command/vehicles/%s/commands", base, url.PathEscape(vin)),
		Body: AutonomicCommand{
			Properties: properties,
			Tags:       map[string]string{},
			Type:       command,
			Version:    version,
			WakeUp:     true,
		},
	}
}

// Global charge commands.
const (
	ChargeStart  = "START"
	ChargeCancel = "CANCEL"
	ChargePause  = "PAUSE"
)

// GlobalChargeCall starts, cancels or pauses charging.
func (c *Client) GlobalChargeCall(vin, action string) *Call {
	return &Call{
		Family: FamilyFord,
		Method: http.MethodPost,
		URL: fmt.Sprintf("%s/electrification/experiences/v1/vehicles/%s/global-charge-command/%s",
			c.endpoints.Vehicle, url.PathEscape(vin), action),
	}
}

// ChargeTargetCall updates the charge schedule of one preferred charge location.
func (c *Client) ChargeTargetCall(vin, locationID string, body any) *Call {
	return &Call{
		Family: FamilyFord,
		Method: http.MethodPost,
		URL: fmt.Sprintf("%s/electrification/experiences/v2/vehicles/preferred-charge-times/locations/%s",
			c.endpoints.Vehicle, url.PathEscape(locationID)),
		Body:   body,
		Header: header(headerVIN, vin),
	}
}

// ZoneLightingActivationCall switches zone lighting on or off.
func (c *Client) ZoneLightingActivationCall(vin string, on bool) *Call {
	method := http.MethodDelete
	if on {
		method = http.MethodPut
	}
	return &Call{
		Family: FamilyFord,
		Method: method,
		URL:    c.endpoints.ZoneLighting + "/zonelightingactivation",
		Body:   map[string]string{"vin": vin},
	}
}

// ZoneLightingModeCall selects the lit zone.
func (c *Client) ZoneLightingModeCall(vin, zone string) *Call {
	return &Call{
		Family: FamilyFord,
		Method: http.MethodPut,
		URL:    fmt.Sprintf("%s/%s/zonelightingzone", c.endpoints.ZoneLighting, url.PathEscape(zone)),
		Body:   map[string]string{"vin": vin},
	}
}

// RemoteClimateUpdateCall stores a remote climate profile.
func (c *Client) RemoteClimateUpdateCall(body any) *Call {
	return &Call{
		Family: FamilyFord,
		Method: http.MethodPut,
		URL:    c.endpoints.Vehicle + "/rcc/profile/update",
		Body:   body,
	}
}
