package command

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
)

// Catalogue names accepted by Dispatch.
const (
	NameLock              = "lock"
	NameUnlock            = "unlock"
	NameRemoteStart       = "remoteStart"
	NameCancelRemoteStart = "cancelRemoteStart"
	NameStatusRefresh     = "statusRefresh"
	NameHonkAndFlash      = "honkAndFlash"
	NameAutoUpdates       = "autoUpdates"
	NameChargeSettings    = "chargeSettings"
	NameStartCharge       = "startCharge"
	NameCancelCharge      = "cancelCharge"
	NamePauseCharge       = "pauseCharge"
	NameChargeTarget      = "chargeTarget"
	NameZoneLighting      = "zoneLighting"
	NameRemoteClimate     = "remoteClimate"
)

type handler func(ctx context.Context, v *Vehicle, params *state.Node) (Outcome, error)

var catalogue = map[string]handler{
	NameLock:              plain((*Vehicle).Lock),
	NameUnlock:            plain((*Vehicle).Unlock),
	NameRemoteStart:       plain((*Vehicle).RemoteStart),
	NameCancelRemoteStart: plain((*Vehicle).CancelRemoteStart),
	NameStatusRefresh:     plain((*Vehicle).StatusRefresh),
	NameStartCharge:       plain((*Vehicle).StartCharge),
	NameCancelCharge:      plain((*Vehicle).CancelCharge),
	NamePauseCharge:       plain((*Vehicle).PauseCharge),

	NameHonkAndFlash: func(ctx context.Context, v *Vehicle, params *state.Node) (Outcome, error) {
		duration := HonkDurations[0]
		if d := params.Get("duration"); d != nil {
			f, ok := d.Float64()
			if !ok {
				return Outcome{Result: Rejected}, fmt.Errorf("%w: duration %s", ErrInvalidArgument, d)
			}
			duration = int(f)
		}
		return v.HonkAndFlash(ctx, duration)
	},

	NameAutoUpdates: func(ctx context.Context, v *Vehicle, params *state.Node) (Outcome, error) {
		return v.AutoUpdates(ctx, params.Get("on").Truthy())
	},

	NameChargeSettings: func(ctx context.Context, v *Vehicle, params *state.Node) (Outcome, error) {
		key, _ := params.Get("key").Str()
		value := params.Get("value")
		if key == "" || value == nil {
			return Outcome{Result: Rejected}, fmt.Errorf("%w: key and value are required", ErrInvalidArgument)
		}
		return v.SetChargeSettings(ctx, key, value.Interface())
	},

	NameChargeTarget: func(ctx context.Context, v *Vehicle, params *state.Node) (Outcome, error) {
		return v.SetChargeTarget(ctx, params)
	},

	NameZoneLighting: func(ctx context.Context, v *Vehicle, params *state.Node) (Outcome, error) {
		target := scalarString(params.Get("target"))
		if !ValidZoneLighting(target) {
			return Outcome{Result: Rejected}, fmt.Errorf("%w: zone lighting %q", ErrInvalidArgument, target)
		}
		current := scalarString(params.Get("current"))
		if current == "" {
			current = CurrentZoneLighting(v.tracker.coord.Document().Snapshot())
		}
		return v.SetZoneLighting(ctx, target, current)
	},

	NameRemoteClimate: func(ctx context.Context, v *Vehicle, params *state.Node) (Outcome, error) {
		profile := params.Get("profile")
		if !profile.IsObject() {
			return Outcome{Result: Rejected}, fmt.Errorf("%w: climate profile must be an object", ErrInvalidArgument)
		}
		return v.SetRemoteClimate(ctx, profile, params.Get("profiles"))
	},
}

func plain(fn func(*Vehicle, context.Context) (Outcome, error)) handler {
	return func(ctx context.Context, v *Vehicle, _ *state.Node) (Outcome, error) {
		return fn(v, ctx)
	}
}

// Names returns the sorted catalogue names.
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for name := range catalogue {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dispatch runs the catalogue operation called name with JSON parameters.
func (v *Vehicle) Dispatch(ctx context.Context, name string, params *state.Node) (Outcome, error) {
	h, ok := catalogue[name]
	if !ok {
		return Outcome{Result: Rejected}, fmt.Errorf("%w: %s", ErrUnknownCommand, strconv.Quote(name))
	}
	if params == nil {
		params = state.Object()
	}
	return h(ctx, v, params)
}
