package bridge

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/credential"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/dump"
	"github.com/autopeer-io/fordpass-bridge/pkg/log"
	"github.com/autopeer-io/fordpass-bridge/pkg/options"
)

// Config is the completed configuration of one bridge session.
type Config struct {
	FordPassOptions   *options.FordPassOptions
	CredentialOptions *options.CredentialOptions
	RedisOptions      *options.RedisOptions
	KubeOptions       *options.KubeOptions
	MqttOptions       *options.MqttOptions
	S3Options         *options.S3Options
	HttpOptions       *options.HttpOptions
}

func (cfg *Config) credentialKey() credential.Key {
	return credential.Key{User: cfg.FordPassOptions.Username, Region: cfg.FordPassOptions.Region}
}

// newStore builds the configured credential backend. Only the file backend
// can be watched, so it is returned separately as well.
func (cfg *Config) newStore() (credential.Store, *credential.FileStore, error) {
	switch cfg.CredentialOptions.Backend {
	case options.CredentialBackendRedis:
		o := cfg.RedisOptions
		client := redis.NewClient(&redis.Options{
			Addr:         o.Addr,
			Username:     o.Username,
			Password:     o.Password,
			DB:           o.DB,
			DialTimeout:  o.Timeout,
			ReadTimeout:  o.Timeout,
			WriteTimeout: o.Timeout,
		})
		return credential.NewRedisStore(client, o.KeyPrefix), nil, nil

	case options.CredentialBackendKube:
		client, err := credential.NewKubeClient(cfg.KubeOptions)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init kubernetes client: %w", err)
		}
		return credential.NewSecretStore(client, cfg.KubeOptions.Namespace), nil, nil

	case options.CredentialBackendFile, "":
		fs := credential.NewFileStore(cfg.FordPassOptions.StoragePath)
		return fs, fs, nil
	}
	return nil, nil, fmt.Errorf("unknown credential backend %q", cfg.CredentialOptions.Backend)
}

// newDumpSink returns where raw payloads go. Without data dumps enabled they
// are dropped; with an S3 endpoint they are uploaded, otherwise written below
// the storage path.
func (cfg *Config) newDumpSink(scope dump.Scope) (dump.Sink, error) {
	if !cfg.FordPassOptions.DataDumps {
		return dump.Nop{}, nil
	}
	if cfg.S3Options != nil && cfg.S3Options.Endpoint != "" {
		sink, err := dump.NewMinIO(cfg.S3Options, scope)
		if err != nil {
			return nil, err
		}
		log.Info("Data dumps go to object storage", "endpoint", cfg.S3Options.Endpoint, "bucket", cfg.S3Options.BucketName)
		return sink, nil
	}
	local := dump.NewLocal(cfg.FordPassOptions.StoragePath, scope, nil)
	log.Info("Data dumps go to local storage", "path", local.Root())
	return local, nil
}
