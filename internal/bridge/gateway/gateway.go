// Package gateway performs the authorized vendor fetches of one vehicle under
// the session failure policy.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/auth"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/dump"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
	"github.com/autopeer-io/fordpass-bridge/pkg/log"
)

// ErrNoToken is returned when the token a call needs is not loaded.
var ErrNoToken = errors.New("no access token available")

// CommandStatuses are the submission statuses accepted for commands.
var CommandStatuses = []int{200, 201, 202, 203, 204, 205}

// Gateway fetches vendor documents for one vehicle.
type Gateway struct {
	client *transport.Client
	auth   *auth.Manager
	vin    string
	dump   dump.Sink
	log    log.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithDumpSink stores every successful payload in s.
func WithDumpSink(s dump.Sink) Option {
	return func(g *Gateway) { g.dump = s }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func New(client *transport.Client, mgr *auth.Manager, vin string, opts ...Option) *Gateway {
	g := &Gateway{
		client: client,
		auth:   mgr,
		vin:    vin,
		dump:   dump.Nop{},
		log:    log.WithName("gateway").WithValues("vin", vin),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) VIN() string               { return g.vin }
func (g *Gateway) Auth() *auth.Manager       { return g.auth }
func (g *Gateway) Client() *transport.Client { return g.client }

// Do sends call with fresh credentials. A status outside ok (200 when empty)
// is an error. Everything past credential preparation is fed to the failure
// policy.
func (g *Gateway) Do(ctx context.Context, call *transport.Call, kind string, ok ...int) (*transport.Response, error) {
	resp, _, err := g.roundTrip(ctx, call, kind, false, ok...)
	return resp, err
}

// roundTrip is Do, parsing the answer first when decode is set so that an
// undecodable body counts as a communication failure.
func (g *Gateway) roundTrip(ctx context.Context, call *transport.Call, kind string, decode bool, ok ...int) (*transport.Response, *state.Node, error) {
	req, err := g.prepare(ctx, call)
	if err != nil {
		return nil, nil, err
	}
	var n *state.Node
	resp, err := g.client.Do(ctx, req)
	if err == nil {
		err = resp.Check(ok...)
	}
	if err == nil && decode {
		n, err = resp.Node()
	}
	if err := g.auth.Observe(ctx, call.Family, err); err != nil {
		g.log.Debug("Request failed", "kind", kind, "error", err.Error())
		return nil, nil, err
	}
	g.dump.Dump(ctx, kind, resp.Body)
	return resp, n, nil
}

// prepare refreshes the credentials and attaches the token call needs.
func (g *Gateway) prepare(ctx context.Context, call *transport.Call) (*transport.Request, error) {
	if err := g.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}
	token := g.auth.PrimaryToken()
	if call.Family == transport.FamilyAutonomic {
		token = g.auth.RelayToken()
	}
	if token == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoToken, call.Family)
	}
	return g.client.Build(call, token)
}

func (g *Gateway) fetch(ctx context.Context, call *transport.Call, kind string) (*state.Node, error) {
	_, n, err := g.roundTrip(ctx, call, kind, true)
	return n, err
}

// Status fetches the full telemetry document. A vehicle the account may not
// read yields a document with empty metrics.
func (g *Gateway) Status(ctx context.Context) (*state.Node, error) {
	call := g.client.StatusCall(g.vin)
	req, err := g.prepare(ctx, call)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(ctx, req)
	if err == nil {
		err = resp.Check()
	}
	if se, ok := transport.AsStatusError(err); ok && se.Forbidden() {
		g.log.Info("Vehicle is not authorized for this account, serving empty metrics")
		return state.ObjectOf(map[string]*state.Node{state.DomainMetrics: state.Object()}), nil
	}
	var n *state.Node
	if err == nil {
		n, err = resp.Node()
	}
	if err := g.auth.Observe(ctx, call.Family, err); err != nil {
		return nil, err
	}
	g.dump.Dump(ctx, "status", resp.Body)
	return n, nil
}

// Messages fetches the message center list.
func (g *Gateway) Messages(ctx context.Context) (*state.Node, error) {
	n, err := g.fetch(ctx, g.client.MessagesCall(), "messages")
	if err != nil {
		return nil, err
	}
	msgs := n.Path("result", "messages")
	if msgs == nil {
		return state.Array(), nil
	}
	return msgs, nil
}

// DeleteMessages removes the messages with the given ids.
func (g *Gateway) DeleteMessages(ctx context.Context, ids []string) error {
	_, err := g.Do(ctx, g.client.DeleteMessagesCall(ids), "delete_messages")
	return err
}

// Vehicles fetches the garage dashboard.
func (g *Gateway) Vehicles(ctx context.Context) (*state.Node, error) {
	return g.fetch(ctx, g.client.VehiclesCall(), "vehicles")
}

// defaultClimateProfiles is installed when climate control is forced on a
// vehicle that reports no profiles.
const defaultClimateProfiles = `[
	{"preferenceType": "RccHeatedWindshield_Rq", "preferenceValue": "Off"},
	{"preferenceType": "RccRearDefrost_Rq", "preferenceValue": "Off"},
	{"preferenceType": "RccHeatedSteeringWheel_Rq", "preferenceValue": "Off"},
	{"preferenceType": "RccLeftFrontClimateSeat_Rq", "preferenceValue": "Off"},
	{"preferenceType": "RccLeftRearClimateSeat_Rq", "preferenceValue": "Off"},
	{"preferenceType": "RccRightFrontClimateSeat_Rq", "preferenceValue": "Off"},
	{"preferenceType": "RccRightRearClimateSeat_Rq", "preferenceValue": "Off"},
	{"preferenceType": "SetPointTemp_Rq", "preferenceValue": "22_0"}
]`

// RemoteClimate fetches the remote climate profiles. With forced set, an
// empty profile list is replaced by the default profile.
func (g *Gateway) RemoteClimate(ctx context.Context, forced bool) (*state.Node, error) {
	n, err := g.fetch(ctx, g.client.RemoteClimateCall(g.vin), "rcc")
	if err != nil {
		return nil, err
	}
	if forced && n.IsObject() && n.Get("rccUserProfiles").Len() == 0 {
		g.log.Info("Creating a default remote climate profile")
		n.Set("rccUserProfiles", state.MustParse(defaultClimateProfiles))
	}
	return n, nil
}

// PreferredChargeTimes fetches the charge locations of this vehicle, keyed
// "0", "1", ... in answer order. Location ids are not unique, so they cannot
// serve as keys.
func (g *Gateway) PreferredChargeTimes(ctx context.Context) (*state.Node, error) {
	n, err := g.fetch(ctx, g.client.PreferredChargeTimesCall(g.vin), "pct")
	if err != nil {
		return nil, err
	}
	return ChargeLocations(n, g.vin), nil
}

// ChargeLocations keeps the entries of list that belong to vin and carry a
// location, keyed by their position among the kept entries. A non-array
// answer is returned unchanged.
func ChargeLocations(list *state.Node, vin string) *state.Node {
	if !list.IsArray() {
		return list
	}
	out := state.Object()
	for _, entry := range list.Items() {
		v, ok := entry.Get("vin").Str()
		if !ok || !strings.EqualFold(v, vin) || !entry.Has("location") {
			continue
		}
		out.Set(strconv.Itoa(out.Len()), entry)
	}
	return out
}

// EnergyTransferStatus fetches the energy transfer status. It only answers
// with content while the vehicle is at a known charge location.
func (g *Gateway) EnergyTransferStatus(ctx context.Context) (*state.Node, error) {
	return g.fetch(ctx, g.client.EnergyTransferStatusCall(g.vin), "ets")
}

// EnergyTransferLogs fetches the most recent energy transfer log.
func (g *Gateway) EnergyTransferLogs(ctx context.Context) (*state.Node, error) {
	return g.fetch(ctx, g.client.EnergyTransferLogsCall(g.vin), "etl")
}

// Submit sends a command call and accepts any 200-205 answer.
func (g *Gateway) Submit(ctx context.Context, call *transport.Call, kind string) (*transport.Response, error) {
	return g.Do(ctx, call, kind, CommandStatuses...)
}
