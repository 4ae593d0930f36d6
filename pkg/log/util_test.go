package log

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name  string
		input []any
		want  int
	}{
		{"empty input", []any{}, 0},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}, 3},
		{"time type", []any{"t", now}, 1},
		{"duration", []any{"backoff", 5 * time.Second}, 1},
		{"bytes", []any{"data", []byte("xyz")}, 1},
		{"error only", []any{err}, 1},
		{"multiple errors", []any{err, errors.New("again")}, 2},
		{"mixed field types", []any{"vin", "WF0XXX", zap.String("x", "y"), "num", 42}, 3},
		{"odd number of args", []any{"key1", "val1", "key2"}, 2},
		{"non-string key", []any{123, "value", true, 99}, 2},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, 2},
		{"map value", []any{"a", map[string]string{"xyz": "123"}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			if len(fields) != tt.want {
				t.Fatalf("toFields() returned %d fields, want %d", len(fields), tt.want)
			}

			for _, f := range fields {
				if f.Key == "" {
					t.Errorf("field has empty key: %+v", f)
				}
			}
		})
	}
}

func TestToFieldsRedactsCredentials(t *testing.T) {
	fields := toFields("refresh_token", "r-secret", "Authorization", "Bearer abc", "idpToken", "i", "vin", "WF0XXX")

	got := map[string]string{}
	for _, f := range fields {
		got[f.Key] = f.String
	}
	for _, key := range []string{"refresh_token", "Authorization", "idpToken"} {
		if got[key] != Redacted {
			t.Errorf("%s = %q, want it redacted", key, got[key])
		}
	}
	if got["vin"] != "WF0XXX" {
		t.Errorf("vin = %q, want the plain value", got["vin"])
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr int
	}{
		{"defaults", func(o *Options) {}, 0},
		{"json debug", func(o *Options) { o.Format = "json"; o.Level = "debug" }, 0},
		{"bad format", func(o *Options) { o.Format = "xml" }, 1},
		{"bad level", func(o *Options) { o.Level = "chatty" }, 1},
		{"both bad", func(o *Options) { o.Format = "xml"; o.Level = "chatty" }, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.mutate(o)
			if got := len(o.Validate()); got != tt.wantErr {
				t.Errorf("Validate() returned %d errors, want %d", got, tt.wantErr)
			}
		})
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != Std() {
		t.Error("FromContext() without a logger should fall back to the global logger")
	}

	l := NewNopLogger().WithName("session")
	ctx := NewContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("FromContext() did not return the stored logger")
	}
}
