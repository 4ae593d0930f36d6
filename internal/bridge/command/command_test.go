package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
)

const testVIN = "WF0TESTVIN0000001"

type submission struct {
	kind   string
	method string
	url    string
	body   string
}

type fakeBackend struct {
	mu          sync.Mutex
	submitBody  string
	submitErr   error
	statuses    []string
	statusCalls int
	submitted   []submission
}

func (b *fakeBackend) Submit(_ context.Context, call *transport.Call, kind string) (*transport.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var body []byte
	if call.Body != nil {
		body, _ = json.Marshal(call.Body)
	}
	b.submitted = append(b.submitted, submission{kind: kind, method: call.Method, url: call.URL, body: string(body)})
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	return &transport.Response{StatusCode: 200, Body: []byte(b.submitBody)}, nil
}

func (b *fakeBackend) Status(context.Context) (*state.Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.statusCalls
	b.statusCalls++
	if len(b.statuses) == 0 {
		return state.Object(), nil
	}
	if i >= len(b.statuses) {
		i = len(b.statuses) - 1
	}
	return state.MustParse(b.statuses[i]), nil
}

func (b *fakeBackend) kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, s := range b.submitted {
		out = append(out, s.kind)
	}
	return out
}

type fakeCoordinator struct {
	mu         sync.Mutex
	streaming  bool
	doc        *state.Document
	suppressed int
	maxHeld    int
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{doc: state.NewDocument(state.DefaultMergeConfig())}
}

func (c *fakeCoordinator) Streaming() bool            { return c.streaming }
func (c *fakeCoordinator) Document() *state.Document { return c.doc }

func (c *fakeCoordinator) SuppressStatusUpdates() func() {
	c.mu.Lock()
	c.suppressed++
	c.maxHeld = max(c.maxHeld, c.suppressed)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.suppressed--
		c.mu.Unlock()
	}
}

type flags struct{ commErr bool }

func (f flags) CommError() bool { return f.commErr }

func newTracker(b *fakeBackend, c *fakeCoordinator) (*Tracker, *clocktesting.FakeClock) {
	clk := clocktesting.NewFakeClock(time.Date(2025, 6, 5, 21, 30, 0, 0, time.UTC))
	return NewTracker(b, c, flags{}, WithClock(clk)), clk
}

// drive runs fn while stepping the fake clock past every wait.
func drive(t *testing.T, clk *clocktesting.FakeClock, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case <-done:
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("command did not finish")
		}
		if clk.HasWaiters() {
			clk.Step(3 * time.Minute)
		}
		time.Sleep(time.Millisecond)
	}
}

func commandState(name, id, toState string) string {
	return `{"states":{"commands":{"` + name + `":{"commandId":"` + id + `","value":{"toState":"` + toState + `"}}}}}`
}

func TestStateKey(t *testing.T) {
	for in, want := range map[string]string{
		"lock":                        "lockCommand",
		"updateChargeSettingsCommand": "updateChargeSettingsCommand",
		"startGlobalCharge":           "startGlobalChargeCommand",
	} {
		if got := stateKey(in); got != want {
			t.Errorf("stateKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCorrelationID(t *testing.T) {
	tests := []struct {
		body   string
		want   string
		wantOK bool
	}{
		{`{"id":"a","commandId":"b"}`, "a", true},
		{`{"commandId":"b","correlationId":"c"}`, "b", true},
		{`{"correlationId":"c"}`, "c", true},
		{`{"id":42}`, "42", true},
		{`{"status":"ok"}`, "", false},
		{`{"id":null}`, "", false},
	}
	for _, tt := range tests {
		got, ok := correlationID(state.MustParse(tt.body))
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("correlationID(%s) = %q, %v, want %q, %v", tt.body, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestExecuteAndConfirmPolling(t *testing.T) {
	failed := `{"states":{"lockCommand":{"commandId":"c1","value":{"toState":"COMMAND_FAILED_ON_DEVICE",
		"data":{"commandError":{"commandExecutionFailure":{"oemErrorContext":"DOOR_OPEN","oemErrorCode":7}}}}}}}`

	tests := []struct {
		name      string
		statuses  []string
		want      Outcome
		wantErr   error
		wantPolls int
	}{
		{
			name:      "success after queue",
			statuses:  []string{commandState("lockCommand", "c1", "REQUEST_QUEUED"), commandState("lockCommand", "c1", "success")},
			want:      Outcome{CorrelationID: "c1", Result: Succeeded},
			wantPolls: 2,
		},
		{
			name:      "succeeded on device",
			statuses:  []string{commandState("lockCommand", "c1", "COMMAND_SUCCEEDED_ON_DEVICE")},
			want:      Outcome{CorrelationID: "c1", Result: Succeeded},
			wantPolls: 1,
		},
		{
			name:      "failed on device",
			statuses:  []string{failed},
			want:      Outcome{CorrelationID: "c1", Result: Failed, Detail: "DOOR_OPEN (code: 7)"},
			wantErr:   ErrCommandFailed,
			wantPolls: 1,
		},
		{
			name:      "expired",
			statuses:  []string{commandState("lockCommand", "c1", "IN_PROGRESS_X"), commandState("lockCommand", "c1", "EXPIRED")},
			want:      Outcome{CorrelationID: "c1", Result: Expired},
			wantErr:   ErrCommandExpired,
			wantPolls: 2,
		},
		{
			name:      "other command id never matches",
			statuses:  []string{commandState("lockCommand", "other", "SUCCESS")},
			want:      Outcome{CorrelationID: "c1", Result: Undetermined},
			wantErr:   ErrCommandTimedOut,
			wantPolls: MaxAttempts,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{submitBody: `{"commandId":"c1"}`, statuses: tt.statuses}
			c := newFakeCoordinator()
			tr, clk := newTracker(b, c)

			var got Outcome
			var err error
			drive(t, clk, func() {
				got, err = tr.ExecuteAndConfirm(context.Background(), "lock", &transport.Call{Method: "POST", URL: "u"}, true)
			})

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("outcome mismatch (-want +got):\n%s", diff)
			}
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if b.statusCalls != tt.wantPolls {
				t.Errorf("status polled %d times, want %d", b.statusCalls, tt.wantPolls)
			}
			if c.maxHeld != 1 || c.suppressed != 0 {
				t.Errorf("suppression held %d, left %d; want held once and released", c.maxHeld, c.suppressed)
			}
		})
	}
}

func TestExecuteAndConfirmStreaming(t *testing.T) {
	b := &fakeBackend{submitBody: `{"id":"c9"}`}
	c := newFakeCoordinator()
	c.streaming = true
	c.doc.SetDomain("states", state.MustParse(`{"commands":{"statusRefreshCommand":{"commandId":"c9","value":{"toState":"SUCCESS"}}}}`))
	tr, clk := newTracker(b, c)

	var got Outcome
	var err error
	drive(t, clk, func() {
		got, err = tr.ExecuteAndConfirm(context.Background(), "statusRefresh", &transport.Call{}, true)
	})
	if err != nil || got.Result != Succeeded {
		t.Fatalf("got %+v, %v; want success", got, err)
	}
	if b.statusCalls != 0 {
		t.Errorf("status polled %d times while streaming", b.statusCalls)
	}
	if c.maxHeld != 0 {
		t.Error("status updates suppressed while streaming")
	}
}

func TestExecuteAndConfirmRejected(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
	}{
		{name: "submission error", backend: &fakeBackend{submitErr: &transport.StatusError{Code: 500}}},
		{name: "no command id", backend: &fakeBackend{submitBody: `{"status":"ok"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTracker(tt.backend, newFakeCoordinator())
			got, err := tr.ExecuteAndConfirm(context.Background(), "lock", &transport.Call{}, true)
			if !errors.Is(err, ErrCommandRejected) {
				t.Errorf("err = %v, want ErrCommandRejected", err)
			}
			if got.Result != Rejected {
				t.Errorf("result = %s, want rejected", got.Result)
			}
		})
	}
}

func TestExecuteWithoutWait(t *testing.T) {
	b := &fakeBackend{submitBody: `{"id":"p1"}`}
	tr, _ := newTracker(b, newFakeCoordinator())
	got, err := tr.ExecuteAndConfirm(context.Background(), "startPanicCue", &transport.Call{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Outcome{CorrelationID: "p1", Result: Succeeded}, got); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
	if b.statusCalls != 0 {
		t.Error("fire-and-forget command polled the status")
	}
}

func TestChargeSettingsProperties(t *testing.T) {
	soc := func(n int) map[string]any {
		return map[string]any{"chargeSettings": map[string]any{
			"globalDCTargetSoc": n, "globalReserveSoc": n, "globalTargetSoc": n,
		}}
	}
	tests := []struct {
		name    string
		key     string
		value   any
		want    map[string]any
		wantErr bool
	}{
		{name: "soc rounds down below 80", key: "globalTargetSoc", value: "77.9", want: soc(70)},
		{name: "soc kept from 80", key: "globalReserveSoc", value: 85.0, want: soc(85)},
		{name: "soc lowercase key", key: "globaltargetsoc", value: 45, want: soc(40)},
		{name: "numeric limit", key: "globalCurrentLimit", value: "32.7",
			want: map[string]any{"chargeSettings": map[string]any{"globalCurrentLimit": 32}}},
		{name: "string setting", key: "chargeMode", value: "CHARGE_NOW",
			want: map[string]any{"chargeSettings": map[string]any{"chargeMode": "CHARGE_NOW"}}},
		{name: "boolean setting", key: "autoChargePortUnlock", value: true,
			want: map[string]any{"chargeSettings": map[string]any{"autoChargePortUnlock": "true"}}},
		{name: "unknown key", key: "maxSpeed", value: 1, wantErr: true},
		{name: "non numeric", key: "globalTargetSoc", value: "full", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChargeSettingsProperties(tt.key, tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("err = %v, want ErrInvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("properties mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
