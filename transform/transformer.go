package transform

import (
	"github.com/fresco-hpc/fresco-etl/common"
)

// Transformer converts one raw telemetry CSV into metric records.
// An input with no valid rows yields (nil, nil); a missing required
// column yields a schema error.
type Transformer interface {
	Name() string
	Transform(path string) ([]common.MetricRecord, error)
}

var registry = map[string]Transformer{
	"block.csv": blockTransformer{},
	"cpu.csv":   cpuTransformer{},
	"mem.csv":   memTransformer{},
	"llite.csv": nfsTransformer{},
}

// ForFile returns the transformer registered for a raw telemetry filename.
func ForFile(filename string) (Transformer, bool) {
	t, ok := registry[filename]
	return t, ok
}

// Names lists the registered transformer names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, t := range registry {
		names = append(names, t.Name())
	}
	return names
}
