package transport

// Endpoints holds the base URLs of every vendor API family. Tests point them at
// httptest servers.
type Endpoints struct {
	// Foundational serves tokens and the message center.
	Foundational string
	// Vehicle serves the dashboard, climate profile and electrification APIs.
	Vehicle string
	// Autonomic serves telemetry and v1 commands.
	Autonomic string
	// AutonomicBeta serves v1beta commands.
	AutonomicBeta string
	// AutonomicStream is the websocket sibling of AutonomicBeta.
	AutonomicStream string
	// Accounts performs the relay token exchange.
	Accounts string
	// ZoneLighting serves the zone lighting activation API.
	ZoneLighting string
}

// DefaultEndpoints returns the production base URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Foundational:    "https://api.foundational.ford.com/api",
		Vehicle:         "https://api.vehicle.ford.com/api",
		Autonomic:       "https://api.autonomic.ai/v1",
		AutonomicBeta:   "https://api.autonomic.ai/v1beta",
		AutonomicStream: "wss://api.autonomic.ai/v1beta",
		Accounts:        "https://accounts.autonomic.ai/v1",
		ZoneLighting:    "https://api.mps.ford.com/vehicles/vpfi",
	}
}

// withDefaults fills empty fields from DefaultEndpoints.
func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.Foundational == "" {
		e.Foundational = d.Foundational
	}
	if e.Vehicle == "" {
		e.Vehicle = d.Vehicle
	}
	if e.Autonomic == "" {
		e.Autonomic = d.Autonomic
	}
	if e.AutonomicBeta == "" {
		e.AutonomicBeta = d.AutonomicBeta
	}
	if e.AutonomicStream == "" {
		e.AutonomicStream = d.AutonomicStream
	}
	if e.Accounts == "" {
		e.Accounts = d.Accounts
	}
	if e.ZoneLighting == "" {
		e.ZoneLighting = d.ZoneLighting
	}
	return e
}
