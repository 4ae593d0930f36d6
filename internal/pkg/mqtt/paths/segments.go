package paths

// Topic segments published by the bridge. Each is followed by the vehicle VIN.
const (
	// State carries the retained JSON snapshot of the vehicle state document.
	// Pattern: {root}/state/{vin}
	State = "state"

	// Reauth is published once each time the account needs a fresh login.
	// Payload: { "vin": "...", "reason": "...", "timestamp": ... }
	// Pattern: {root}/reauth/{vin}
	Reauth = "reauth"

	// Online reports bridge liveness, with an offline last-will.
	// Payload: { "online": true/false, "timestamp": ... }
	// Pattern: {root}/online/{vin}
	Online = "online"

	// Command is subscribed by the bridge. Hosts request a command by name.
	// Payload: { "id": "...", "name": "lock", "params": { ... } }
	// Pattern: {root}/command/{vin}
	Command = "command"

	// CommandResult answers a Command message once its outcome is known.
	// Pattern: {root}/command-result/{vin}
	CommandResult = "command-result"
)
