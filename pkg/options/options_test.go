package options

import (
	"testing"
	"time"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"0.0.0.0:8080", false},
		{"localhost:6379", false},
		{"[::1]:443", false},
		{"8080", true},
		{"host:0", true},
		{"host:70000", true},
		{"host:http", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if err := ValidateAddress(tt.addr); (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestFordPassOptionsValidate(t *testing.T) {
	valid := func() *FordPassOptions {
		o := NewFordPassOptions()
		o.Username = "driver@example.com"
		o.VIN = "WF0XXXGCDXAB12345"
		return o
	}

	tests := []struct {
		name    string
		mutate  func(o *FordPassOptions)
		wantErr int
	}{
		{"valid", func(o *FordPassOptions) {}, 0},
		{"missing username", func(o *FordPassOptions) { o.Username = "" }, 1},
		{"short vin", func(o *FordPassOptions) { o.VIN = "WF0" }, 1},
		{"unknown region", func(o *FordPassOptions) { o.Region = "mars" }, 1},
		{"legacy region", func(o *FordPassOptions) { o.Region = "UK&Europe" }, 0},
		{"interval too small", func(o *FordPassOptions) { o.UpdateInterval = 5 * time.Second }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid()
			tt.mutate(o)
			if got := len(o.Validate()); got != tt.wantErr {
				t.Errorf("Validate() returned %d errors, want %d: %v", got, tt.wantErr, o.Validate())
			}
		})
	}
}

func TestCredentialOptionsValidate(t *testing.T) {
	for _, backend := range []string{CredentialBackendFile, CredentialBackendRedis, CredentialBackendKube} {
		o := NewCredentialOptions()
		o.Backend = backend
		if errs := o.Validate(); len(errs) != 0 {
			t.Errorf("backend %q: unexpected errors %v", backend, errs)
		}
	}

	o := NewCredentialOptions()
	o.Backend = "floppy"
	if errs := o.Validate(); len(errs) != 1 {
		t.Errorf("backend floppy: got %d errors, want 1", len(errs))
	}
}

func TestMqttOptionsValidate(t *testing.T) {
	o := NewMqttOptions()
	o.Broker = ""
	if errs := o.Validate(); len(errs) != 0 {
		t.Errorf("disabled sink must not be validated, got %v", errs)
	}

	o.Enabled = true
	if errs := o.Validate(); len(errs) != 1 {
		t.Errorf("enabled sink without broker: got %d errors, want 1", len(errs))
	}
}

func TestHttpOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *HttpOptions)
		wantErr int
	}{
		{"defaults", func(o *HttpOptions) {}, 0},
		{"unix socket", func(o *HttpOptions) { o.Network = "unix"; o.Addr = "/run/bridge.sock" }, 0},
		{"unix without path", func(o *HttpOptions) { o.Network = "unix"; o.Addr = "" }, 1},
		{"bad network", func(o *HttpOptions) { o.Network = "udp" }, 1},
		{"bad address and timeout", func(o *HttpOptions) { o.Addr = "nowhere"; o.Timeout = 0 }, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewHttpOptions()
			tt.mutate(o)
			if got := len(o.Validate()); got != tt.wantErr {
				t.Errorf("Validate() returned %d errors, want %d: %v", got, tt.wantErr, o.Validate())
			}
		})
	}
}

func TestKubeOptionsValidate(t *testing.T) {
	o := NewKubeOptions()
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("defaults rejected: %v", errs)
	}
	o.Namespace = ""
	o.Burst = 0
	if got := len(o.Validate()); got != 2 {
		t.Errorf("Validate() returned %d errors, want 2", got)
	}
}
