package log

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Redacted replaces the value of any field whose key names credential material.
const Redacted = "[redacted]"

var sensitiveKeys = []string{"token", "password", "secret", "authorization"}

func sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// toFields turns alternating keys and values into zap fields. Bare errors and
// zap fields are accepted anywhere in the list, an unpaired trailing value is
// kept under "arg#N" and values of sensitive keys never reach the encoder.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(v))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, val := args[i], args[i+1]
		i += 2

		name, ok := key.(string)
		if !ok {
			fields = append(fields, zap.Any(fmt.Sprintf("invalid_key_%d", i/2), map[string]any{
				"key":   key,
				"value": val,
			}))
			continue
		}
		if sensitive(name) {
			fields = append(fields, zap.String(name, Redacted))
			continue
		}
		fields = append(fields, field(name, val))
	}
	return fields
}

func field(key string, val any) zap.Field {
	switch v := val.(type) {
	case time.Duration:
		return zap.Duration(key, v)
	case time.Time:
		return zap.Time(key, v)
	case error:
		return zap.NamedError(key, v)
	case []byte:
		return zap.Binary(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}
