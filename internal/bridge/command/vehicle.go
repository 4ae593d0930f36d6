package command

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
)

// Autonomic command names.
const (
	cmdLock              = "lock"
	cmdUnlock            = "unlock"
	cmdRemoteStart       = "remoteStart"
	cmdCancelRemoteStart = "cancelRemoteStart"
	cmdStatusRefresh     = "statusRefresh"
	cmdPanicCue          = "startPanicCue"
	cmdAutoUpdates       = "publishASUSettingsCommand"
	cmdChargeSettings    = "updateChargeSettingsCommand"

	chargeSettingsVersion = "1.0.1"
)

// ZoneLightsOff is the zone lighting value that switches the lights off.
const ZoneLightsOff = "off"

// ZoneLightsOnDelay is the pause between switching zone lighting on and
// selecting the zone.
const ZoneLightsOnDelay = 5 * time.Second

// HonkDurations are the horn and light durations the vehicle accepts.
var HonkDurations = []int{1, 3, 5}

// StateHooks lets commands keep the synchronizer's documents in step.
type StateHooks interface {
	RefreshClimate(ctx context.Context) (bool, error)
	MarkRemoteStartActive()
	UpdateClimateProfiles(profiles *state.Node)
	RefreshMessages(ctx context.Context) error
	InvalidateMessages()
}

// MessageDeleter removes message center entries.
type MessageDeleter interface {
	DeleteMessages(ctx context.Context, ids []string) error
}

// Vehicle is the command catalogue of one vehicle.
type Vehicle struct {
	vin      string
	calls    *transport.Client
	tracker  *Tracker
	hooks    StateHooks
	messages MessageDeleter
}

// NewVehicle returns the catalogue of vin.
func NewVehicle(vin string, calls *transport.Client, tracker *Tracker, hooks StateHooks, messages MessageDeleter) *Vehicle {
	return &Vehicle{vin: vin, calls: calls, tracker: tracker, hooks: hooks, messages: messages}
}

func (v *Vehicle) autonomic(ctx context.Context, command string, properties map[string]any, beta bool, version string, wait bool) (Outcome, error) {
	call := v.calls.AutonomicCommandCall(v.vin, command, properties, beta, version)
	return v.tracker.ExecuteAndConfirm(ctx, command, call, wait)
}

func (v *Vehicle) Lock(ctx context.Context) (Outcome, error) {
	return v.autonomic(ctx, cmdLock, nil, false, "", true)
}

func (v *Vehicle) Unlock(ctx context.Context) (Outcome, error) {
	return v.autonomic(ctx, cmdUnlock, nil, false, "", true)
}

// RemoteStart refreshes the climate profiles, marks the remote start as
// known and starts the engine.
func (v *Vehicle) RemoteStart(ctx context.Context) (Outcome, error) {
	if _, err := v.hooks.RefreshClimate(ctx); err != nil {
		v.tracker.log.Info("Climate refresh before remote start failed", "error", err.Error())
	}
	v.hooks.MarkRemoteStartActive()
	return v.autonomic(ctx, cmdRemoteStart, nil, false, "", true)
}

func (v *Vehicle) CancelRemoteStart(ctx context.Context) (Outcome, error) {
	return v.autonomic(ctx, cmdCancelRemoteStart, nil, false, "", true)
}

// StatusRefresh asks the vehicle to report its state.
func (v *Vehicle) StatusRefresh(ctx context.Context) (Outcome, error) {
	return v.autonomic(ctx, cmdStatusRefresh, nil, false, "", true)
}

// HonkAndFlash sounds the horn and flashes the lights for 1, 3 or 5 seconds.
// It returns once the vendor accepted the command.
func (v *Vehicle) HonkAndFlash(ctx context.Context, duration int) (Outcome, error) {
	if !slices.Contains(HonkDurations, duration) {
		return Outcome{Result: Rejected}, fmt.Errorf("%w: honk duration %d, want one of %v", ErrInvalidArgument, duration, HonkDurations)
	}
	return v.autonomic(ctx, cmdPanicCue, map[string]any{"duration": duration}, false, "", false)
}

// AutoUpdates switches automatic software updates on or off.
func (v *Vehicle) AutoUpdates(ctx context.Context, on bool) (Outcome, error) {
	asu := "OFF"
	if on {
		asu = "ON"
	}
	return v.autonomic(ctx, cmdAutoUpdates, map[string]any{"ASUState": asu}, true, "", true)
}

// SetChargeSettings changes one charge setting.
func (v *Vehicle) SetChargeSettings(ctx context.Context, key string, value any) (Outcome, error) {
	props, err := ChargeSettingsProperties(key, value)
	if err != nil {
		return Outcome{Result: Rejected}, err
	}
	return v.autonomic(ctx, cmdChargeSettings, props, true, chargeSettingsVersion, true)
}

func (v *Vehicle) globalCharge(ctx context.Context, action, name string) (Outcome, error) {
	return v.tracker.ExecuteAndConfirm(ctx, name, v.calls.GlobalChargeCall(v.vin, action), true)
}

func (v *Vehicle) StartCharge(ctx context.Context) (Outcome, error) {
	return v.globalCharge(ctx, transport.ChargeStart, "startGlobalCharge")
}

func (v *Vehicle) CancelCharge(ctx context.Context) (Outcome, error) {
	return v.globalCharge(ctx, transport.ChargeCancel, "cancelGlobalCharge")
}

func (v *Vehicle) PauseCharge(ctx context.Context) (Outcome, error) {
	return v.globalCharge(ctx, transport.ChargePause, "pauseGlobalCharge")
}

// SetChargeTarget stores the charge schedule of the location named by
// body.location.id. It succeeds once the backend accepts the write; the
// outcome only ever arrives on the stream as updateChargeProfilesCommand.
func (v *Vehicle) SetChargeTarget(ctx context.Context, body *state.Node) (Outcome, error) {
	location := scalarString(body.Path("location", "id"))
	if location == "" {
		return Outcome{Result: Rejected}, fmt.Errorf("%w: charge target without location id", ErrInvalidArgument)
	}
	call := v.calls.ChargeTargetCall(v.vin, location, body)
	return v.tracker.ExecuteAndConfirm(ctx, "updateChargeProfiles", call, false)
}

// SetZoneLighting selects the lit zone. current is the zone reported by the
// vehicle, empty when unknown. Lights that are off are switched on first.
func (v *Vehicle) SetZoneLighting(ctx context.Context, target, current string) (Outcome, error) {
	if target == "" || target == ZoneLightsOff {
		return v.tracker.Send(ctx, "turnZoneLightsOff", v.calls.ZoneLightingActivationCall(v.vin, false))
	}
	if current == target {
		return Outcome{Result: Succeeded}, nil
	}
	if current == ZoneLightsOff {
		if out, err := v.tracker.Send(ctx, "turnZoneLightsOn", v.calls.ZoneLightingActivationCall(v.vin, true)); err != nil {
			return out, err
		}
		if err := v.tracker.sleep(ctx, ZoneLightsOnDelay); err != nil {
			return Outcome{Result: Undetermined}, err
		}
	}
	return v.tracker.Send(ctx, "setZoneLightsMode", v.calls.ZoneLightingModeCall(v.vin, target))
}

// SetRemoteClimate stores a climate profile and installs profiles as the
// cached profile list.
func (v *Vehicle) SetRemoteClimate(ctx context.Context, body, profiles *state.Node) (Outcome, error) {
	out, err := v.tracker.Send(ctx, "setRemoteClimateControl", v.calls.RemoteClimateUpdateCall(body))
	if err != nil {
		return out, err
	}
	if profiles != nil {
		v.hooks.UpdateClimateProfiles(profiles)
	}
	return out, nil
}

// DeleteMessages removes messages and re-reads the message list.
func (v *Vehicle) DeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no message ids", ErrInvalidArgument)
	}
	if err := v.messages.DeleteMessages(ctx, ids); err != nil {
		return err
	}
	if err := v.hooks.RefreshMessages(ctx); err != nil {
		v.tracker.log.Info("Message refresh after delete failed", "error", err.Error())
		v.hooks.InvalidateMessages()
	}
	return nil
}
