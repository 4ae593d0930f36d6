package command

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
)

func TestDispatchValidation(t *testing.T) {
	tests := []struct {
		name    string
		command string
		params  string
		wantErr error
	}{
		{"unknown", "selfDestruct", `{}`, ErrUnknownCommand},
		{"honk duration not numeric", NameHonkAndFlash, `{"duration":"long"}`, ErrInvalidArgument},
		{"honk duration unsupported", NameHonkAndFlash, `{"duration":2}`, ErrInvalidArgument},
		{"charge settings without value", NameChargeSettings, `{"key":"globalCurrentLimit"}`, ErrInvalidArgument},
		{"zone lighting unknown", NameZoneLighting, `{"target":"9"}`, ErrInvalidArgument},
		{"climate without profile", NameRemoteClimate, `{"profiles":[]}`, ErrInvalidArgument},
		{"charge target without location", NameChargeTarget, `{}`, ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{submitBody: `{"id":"x"}`}
			v, _, _, _ := newTestVehicle(b)

			out, err := v.Dispatch(context.Background(), tt.command, state.MustParse(tt.params))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if out.Result != Rejected {
				t.Errorf("result = %s, want %s", out.Result, Rejected)
			}
			if len(b.submitted) != 0 {
				t.Errorf("submitted %d requests for an invalid command", len(b.submitted))
			}
		})
	}
}

func TestDispatchHonkDefaultsToShortest(t *testing.T) {
	b := &fakeBackend{submitBody: `{"id":"x"}`}
	v, _, _, _ := newTestVehicle(b)

	out, err := v.Dispatch(context.Background(), NameHonkAndFlash, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != Succeeded {
		t.Errorf("result = %s", out.Result)
	}
	want := `{"properties":{"duration":1},"tags":{},"type":"startPanicCue","wakeUp":true}`
	if got := b.submitted[0].body; got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestDispatchZoneLightingReadsCurrent(t *testing.T) {
	b := &fakeBackend{}
	v, _, _, _ := newTestVehicle(b)
	v.tracker.coord.Document().Merge(state.Update{
		Domain: "events",
		Value:  powerModeSnapshot("On", "zone_1_active_power_status").Get("events"),
	})

	out, err := v.Dispatch(context.Background(), NameZoneLighting, state.MustParse(`{"target":"1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != Succeeded || len(b.submitted) != 0 {
		t.Errorf("result = %s with %d submissions, want no-op success", out.Result, len(b.submitted))
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != len(catalogue) {
		t.Fatalf("got %d names, want %d", len(names), len(catalogue))
	}
	if diff := cmp.Diff(NameAutoUpdates, names[0]); diff != "" {
		t.Errorf("first name (-want +got):\n%s", diff)
	}
}
