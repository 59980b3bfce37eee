//go:build linux

package pid1

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/unit"
)

// Registry is the subset of *unit.Registry Dump reads from.
type Registry interface {
	List() []*unit.Entry
}

// DumpUnit is one line of the NDJSON dump: a unit's load and runtime
// state, streamable without a schema migration story since each line
// stands alone.
type DumpUnit struct {
	Name      string `json:"name"`
	LoadState string `json:"load_state"`
	Active    string `json:"active"`
	Sub       string `json:"sub"`
	MainPID   int    `json:"main_pid,omitempty"`
	Result    string `json:"result,omitempty"`
}

// Dump writes one DumpUnit per loaded unit, newline-delimited, to
// /run/<name>/dump-<pid>.json (spec.md's SIGUSR1 behavior, an open
// question resolved toward NDJSON for trivial streaming/diffing over a
// structured-but-versioned single JSON document).
func Dump(ctx context.Context, registry Registry, status func(name string) DumpUnit, runDir string) {
	path := fmt.Sprintf("%s/dump-%d.json", runDir, os.Getpid())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		log.G(ctx).WithError(err).Error("pid1: failed to open dump file")
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, entry := range registry.List() {
		du := status(entry.Name)
		du.Name = entry.Name
		du.LoadState = string(entry.LoadState)
		if err := enc.Encode(du); err != nil {
			log.G(ctx).WithError(err).Warn("pid1: failed to encode dump entry")
		}
	}
	log.G(ctx).WithField("path", path).Info("pid1: wrote state dump")
}
