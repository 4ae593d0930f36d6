package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge"
	"github.com/autopeer-io/fordpass-bridge/pkg/app"
	"github.com/autopeer-io/fordpass-bridge/pkg/log"
	"github.com/autopeer-io/fordpass-bridge/pkg/options"
)

// BridgeOptions is the full option bundle of the bridge binary.
type BridgeOptions struct {
	FordPassOptions   *options.FordPassOptions   `json:"fordpass" mapstructure:"fordpass"`
	CredentialOptions *options.CredentialOptions `json:"credential" mapstructure:"credential"`
	RedisOptions      *options.RedisOptions      `json:"redis" mapstructure:"redis"`
	KubeOptions       *options.KubeOptions       `json:"kube" mapstructure:"kube"`
	HttpOptions       *options.HttpOptions       `json:"http" mapstructure:"http"`
	MqttOptions       *options.MqttOptions       `json:"mqtt" mapstructure:"mqtt"`
	S3Options         *options.S3Options         `json:"s3" mapstructure:"s3"`
	Log               *log.Options               `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*BridgeOptions)(nil)

func NewBridgeOptions() *BridgeOptions {
	return &BridgeOptions{
		FordPassOptions:   options.NewFordPassOptions(),
		CredentialOptions: options.NewCredentialOptions(),
		RedisOptions:      options.NewRedisOptions(),
		KubeOptions:       options.NewKubeOptions(),
		HttpOptions:       options.NewHttpOptions(),
		MqttOptions:       options.NewMqttOptions(),
		S3Options:         options.NewS3Options(),
		Log:               log.NewOptions(),
	}
}

func (o *BridgeOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.FordPassOptions.AddFlags(fss.FlagSet("fordpass"))
	o.CredentialOptions.AddFlags(fss.FlagSet("credential"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.KubeOptions.AddFlags(fss.FlagSet("kube"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *BridgeOptions) Complete() error {
	return nil
}

// Validate checks every group. Backend specific groups are only checked when
// their backend is selected.
func (o *BridgeOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.FordPassOptions.Validate()...)
	errs = append(errs, o.CredentialOptions.Validate()...)
	switch o.CredentialOptions.Backend {
	case options.CredentialBackendRedis:
		errs = append(errs, o.RedisOptions.Validate()...)
	case options.CredentialBackendKube:
		errs = append(errs, o.KubeOptions.Validate()...)
	}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *BridgeOptions) Config() (*bridge.Config, error) {
	return &bridge.Config{
		FordPassOptions:   o.FordPassOptions,
		CredentialOptions: o.CredentialOptions,
		RedisOptions:      o.RedisOptions,
		KubeOptions:       o.KubeOptions,
		MqttOptions:       o.MqttOptions,
		S3Options:         o.S3Options,
		HttpOptions:       o.HttpOptions,
	}, nil
}
