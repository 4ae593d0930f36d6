package app

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
)

type serviceOptions struct {
	Service struct {
		Name     string        `mapstructure:"name"`
		Interval time.Duration `mapstructure:"interval"`
		Password string        `mapstructure:"password"`
	} `mapstructure:"service"`

	completed bool
}

func newServiceOptions() *serviceOptions {
	o := &serviceOptions{}
	o.Service.Name = "default"
	o.Service.Interval = time.Minute
	return o
}

func (o *serviceOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("service")
	fs.StringVar(&o.Service.Name, "service.name", o.Service.Name, "Service name.")
	fs.DurationVar(&o.Service.Interval, "service.interval", o.Service.Interval, "Interval.")
	fs.StringVar(&o.Service.Password, "service.password", o.Service.Password, "Password.")
	return fss
}

func (o *serviceOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *serviceOptions) Validate() error {
	if o.Service.Name == "" {
		return errors.New("service.name is required")
	}
	return nil
}

func runApp(t *testing.T, opts *serviceOptions, args ...string) error {
	t.Helper()
	ran := false
	a := NewApp("test-bridge", "test", WithOptions(opts), WithDefaultValidArgs(), WithSilence(),
		WithRunFunc(func() error {
			ran = true
			return nil
		}))
	a.Command().SetArgs(args)
	a.Command().SetOut(&bytes.Buffer{})
	err := a.Command().Execute()
	if err == nil && !ran {
		t.Error("run function not called")
	}
	return err
}

func TestFlagsAndDefaults(t *testing.T) {
	opts := newServiceOptions()
	if err := runApp(t, opts, "--service.name=bridge", "--service.interval=90s"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if opts.Service.Name != "bridge" || opts.Service.Interval != 90*time.Second {
		t.Errorf("options = %+v", opts.Service)
	}
	if !opts.completed {
		t.Error("Complete not called")
	}
}

func TestConfigFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bridge.yaml")
	if err := os.WriteFile(file, []byte("service:\n  name: from-file\n  interval: 2m\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_BRIDGE_SERVICE_INTERVAL", "3m")

	opts := newServiceOptions()
	if err := runApp(t, opts, "--config", file); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if opts.Service.Name != "from-file" {
		t.Errorf("name = %q, want from-file", opts.Service.Name)
	}
	if opts.Service.Interval != 3*time.Minute {
		t.Errorf("interval = %s, want the environment override", opts.Service.Interval)
	}
}

func TestMissingConfigFile(t *testing.T) {
	err := runApp(t, newServiceOptions(), "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidationFailure(t *testing.T) {
	err := runApp(t, newServiceOptions(), "--service.name=")
	if err == nil || !strings.Contains(err.Error(), "service.name is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestRejectsArguments(t *testing.T) {
	if err := runApp(t, newServiceOptions(), "extra"); err == nil {
		t.Fatal("expected error for positional argument")
	}
}

func TestPrintConfigTable(t *testing.T) {
	v := viper.New()
	v.Set("service.name", "bridge")
	v.Set("service.password", "hunter2")
	v.Set("mqtt.password", "")

	var buf bytes.Buffer
	printConfigTable(&buf, v)
	out := buf.String()

	if !strings.Contains(out, "service.name:") || !strings.Contains(out, "bridge") {
		t.Errorf("missing plain value:\n%s", out)
	}
	if strings.Contains(out, "hunter2") || !strings.Contains(out, "******") {
		t.Errorf("secret not masked:\n%s", out)
	}
}
