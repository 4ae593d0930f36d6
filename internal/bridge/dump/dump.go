// Package dump stores raw backend payloads for later diagnosis.
package dump

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"
)

// Sink receives raw payloads. Implementations log their own failures; a dump
// never fails the call that produced it.
type Sink interface {
	Dump(ctx context.Context, kind string, payload []byte)
}

// Nop discards every payload.
type Nop struct{}

func (Nop) Dump(context.Context, string, []byte) {}

// Scope identifies the vehicle a payload belongs to.
type Scope struct {
	User   string
	Region string
	VIN    string
}

// ObjectName returns the relative path of a payload of kind received at t:
// user/region/vin/yyyy/mm/dd/hh/yyyy-mm-dd_hh-mm-ss.mmm_kind.json.
func ObjectName(s Scope, kind string, t time.Time) string {
	t = t.UTC()
	return path.Join(s.User, s.Region, s.VIN,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02d", t.Hour()),
		t.Format("2006-01-02_15-04-05.000")+"_"+kind+".json",
	)
}

// indent pretty-prints JSON payloads and passes anything else through.
func indent(payload []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "    "); err != nil {
		return payload
	}
	return buf.Bytes()
}
