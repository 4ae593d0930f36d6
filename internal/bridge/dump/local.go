package dump

import (
	"context"
	"os"
	"path/filepath"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/fordpass-bridge/pkg/log"
)

// Local writes payloads below <storage>/fordpass/data_dumps.
type Local struct {
	root  string
	scope Scope
	clock clock.PassiveClock
}

func NewLocal(storagePath string, scope Scope, clk clock.PassiveClock) *Local {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Local{
		root:  filepath.Join(storagePath, "fordpass", "data_dumps"),
		scope: scope,
		clock: clk,
	}
}

func (l *Local) Dump(_ context.Context, kind string, payload []byte) {
	name := filepath.Join(l.root, filepath.FromSlash(ObjectName(l.scope, kind, l.clock.Now())))
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		log.Info("Failed to create dump directory", "path", name, "error", err.Error())
		return
	}
	if err := os.WriteFile(name, indent(payload), 0o644); err != nil {
		log.Info("Failed to write data dump", "path", name, "error", err.Error())
	}
}

// Root returns the directory dumps are written to.
func (l *Local) Root() string { return l.root }

var _ Sink = (*Local)(nil)
