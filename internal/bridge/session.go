// Package bridge wires the credential manager, the synchronizer, the command
// catalogue and the host surfaces of one vehicle into a session.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/auth"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/command"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/credential"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/dump"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/gateway"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/notifier"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/server"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/server/http"
	mqttserver "github.com/autopeer-io/fordpass-bridge/internal/bridge/server/mqtt"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/synchronizer"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
	"github.com/autopeer-io/fordpass-bridge/pkg/log"
	pkgmqtt "github.com/autopeer-io/fordpass-bridge/pkg/mqtt"
	"github.com/autopeer-io/fordpass-bridge/pkg/mqtt/topic"
	"github.com/autopeer-io/fordpass-bridge/pkg/region"
)

const reauthReason = "stored credentials can no longer be refreshed"

// Session serves one vehicle until its context ends.
type Session struct {
	vin       string
	key       credential.Key
	store     credential.Store
	file      *credential.FileStore
	watch     bool
	bootstrap *credential.Bootstrap

	auth     *auth.Manager
	gateway  *gateway.Gateway
	sync     *synchronizer.Synchronizer
	vehicle  *command.Vehicle
	notifier *notifier.MQTT
	ingress  *mqttserver.Server
	dump     dump.Sink
	servers  *server.Manager

	log log.Logger
}

// NewSession builds a session from cfg. Per-account resources come from reg.
func (cfg *Config) NewSession(reg *Registry, boot *credential.Bootstrap) (*Session, error) {
	fp := cfg.FordPassOptions
	r, err := region.Lookup(fp.Region)
	if err != nil {
		return nil, err
	}
	key := cfg.credentialKey()

	acct, err := reg.account(key, cfg.newStore)
	if err != nil {
		return nil, fmt.Errorf("failed to init credential store: %w", err)
	}

	logger := log.WithValues("vin", fp.VIN)
	s := &Session{
		vin:       fp.VIN,
		key:       key,
		store:     acct.store,
		file:      acct.file,
		watch:     cfg.CredentialOptions.WatchFile,
		bootstrap: boot,
		log:       logger,
	}

	s.dump, err = cfg.newDumpSink(dump.Scope{User: fp.Username, Region: fp.Region, VIN: fp.VIN})
	if err != nil {
		return nil, fmt.Errorf("failed to init dump sink: %w", err)
	}

	client := transport.NewClient(r)
	s.auth = auth.NewManager(client, acct.store, key,
		auth.WithSubject(fp.VIN),
		auth.WithCounters(acct.counters),
		auth.WithLogger(logger.WithName("auth")),
	)
	s.gateway = gateway.New(client, s.auth, fp.VIN,
		gateway.WithDumpSink(s.dump),
		gateway.WithLogger(logger.WithName("gateway")),
	)

	syncOpts := []synchronizer.Option{
		synchronizer.WithDumpSink(s.dump),
		synchronizer.WithLogger(logger.WithName("synchronizer")),
	}
	var (
		mqttClient pkgmqtt.Client
		topics     *topic.Builder
	)
	if cfg.MqttOptions != nil && cfg.MqttOptions.Enabled {
		mqttCfg, err := notifier.ClientConfig(cfg.MqttOptions, fp.VIN)
		if err != nil {
			return nil, err
		}
		mqttClient, err = pkgmqtt.NewClient(mqttCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to init mqtt client: %w", err)
		}
		topics = topic.NewBuilder(cfg.MqttOptions.TopicRoot)
		s.notifier = notifier.NewMQTT(mqttClient, topics, fp.VIN,
			notifier.WithLogger(logger.WithName("notifier")))
		syncOpts = append(syncOpts, synchronizer.WithSink(s.notifier))
	} else {
		syncOpts = append(syncOpts, synchronizer.WithSink(synchronizer.SinkFunc(func(snap *state.Node) {
			logger.Debug("State updated", "domains", len(snap.Keys()))
		})))
	}

	s.sync = synchronizer.New(synchronizer.Config{
		VIN:          fp.VIN,
		PollInterval: fp.UpdateInterval,
		ForceClimate: fp.ForceRemoteClimateControl,
	}, s.gateway, s.auth, synchronizer.StreamDialer(client, fp.VIN), state.NewDocument(state.DefaultMergeConfig()), syncOpts...)

	tracker := command.NewTracker(s.gateway, s.sync, s.auth, command.WithLogger(logger.WithName("command")))
	s.vehicle = command.NewVehicle(fp.VIN, client, tracker, s.sync, s.gateway)

	s.auth.OnReauth(s.onReauth)

	api := http.NewAPI(s.sync, s.auth, s.vehicle, logger.WithName("api"))
	s.servers = server.NewManager(
		server.ServerFunc(s.sync.Run),
		http.NewServer(cfg.HttpOptions, api.Router()),
	)
	if mqttClient != nil {
		s.ingress = mqttserver.NewServer(mqttClient, topics, fp.VIN, s.vehicle, s.notifier,
			mqttserver.WithLogger(logger.WithName("mqtt")))
		s.servers.Add(s.ingress)
	}

	return s, nil
}

// Run seeds the credentials if needed and runs every part of the session
// until ctx ends or one of them fails.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info("Starting bridge session", "account", s.key.String())

	if err := s.seed(ctx); err != nil {
		s.log.Error(err, "Failed to seed credentials, waiting for re-authentication through the API")
	}

	if s.file != nil && s.watch {
		if err := s.file.Watch(ctx, s.key, s.auth.Invalidate); err != nil {
			s.log.Error(err, "Failed to watch token file")
		}
	}
	if m, ok := s.dump.(*dump.MinIO); ok {
		if err := m.CheckBucket(ctx); err != nil {
			s.log.Error(err, "Dump bucket is not usable")
		}
	}

	err := s.servers.Start(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.log.Info("Bridge session stopped")
	return err
}

// seed installs bootstrap credentials when the store has none. A refresh
// token is stored directly; an identity-provider token is exchanged first.
func (s *Session) seed(ctx context.Context) error {
	if s.bootstrap.Empty() {
		return nil
	}

	seeded, err := s.bootstrap.Seed(ctx, s.store, s.key)
	if err != nil {
		return err
	}
	if seeded {
		s.log.Info("Seeded credential store from the environment")
		return nil
	}
	if s.bootstrap.IDPToken == "" {
		return nil
	}

	if _, err := s.store.Load(ctx, s.key); !errors.Is(err, credential.ErrNotFound) && !errors.Is(err, credential.ErrCorrupt) {
		return err
	}
	if err := s.auth.Login(ctx, s.bootstrap.IDPToken); err != nil {
		return fmt.Errorf("bootstrap login: %w", err)
	}
	s.log.Info("Logged in with the bootstrap identity token")
	return nil
}

func (s *Session) onReauth() {
	s.log.Info("Re-authentication required", "account", s.key.String())
	if s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifier.PublishTimeout)
	defer cancel()
	if err := s.notifier.PublishReauth(ctx, reauthReason); err != nil {
		s.log.Error(err, "Failed to publish reauth event")
	}
}

// Synchronizer returns the state side of the session.
func (s *Session) Synchronizer() *synchronizer.Synchronizer { return s.sync }

// Vehicle returns the command catalogue of the session.
func (s *Session) Vehicle() *command.Vehicle { return s.vehicle }

// Auth returns the credential manager of the session.
func (s *Session) Auth() *auth.Manager { return s.auth }
