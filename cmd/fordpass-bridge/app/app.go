package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"
	"k8s.io/klog/v2"

	"github.com/autopeer-io/fordpass-bridge/cmd/fordpass-bridge/app/options"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/credential"
	"github.com/autopeer-io/fordpass-bridge/pkg/app"
	"github.com/autopeer-io/fordpass-bridge/pkg/log"
)

const (
	commandName = "fordpass-bridge"
	envPrefix   = "FORDPASS_BRIDGE"
	commandDesc = `The FordPass bridge keeps the state of one vehicle current from the
FordPass telemetry stream, falls back to polling while the stream is down,
and runs remote commands until the vehicle confirms them.

State is served over HTTP and, when enabled, published to an MQTT broker.
Initial credentials can be provided through FORDPASS_REFRESH_TOKEN or
FORDPASS_IDP_TOKEN.`
)

func NewApp() *app.App {
	opts := options.NewBridgeOptions()
	application := app.NewApp(
		commandName,
		"Launch a FordPass vehicle bridge",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithLogOptions(opts.Log),
		app.WithEnvPrefix(envPrefix),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.BridgeOptions) app.RunFunc {
	return func() error {
		// client-go reports through klog.
		klog.SetLogger(log.Logr().WithName("client-go"))

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		boot, err := credential.LoadBootstrap()
		if err != nil {
			return err
		}

		session, err := cfg.NewSession(bridge.NewRegistry(), boot)
		if err != nil {
			return fmt.Errorf("failed to create bridge session: %w", err)
		}

		return session.Run(ctx)
	}
}
