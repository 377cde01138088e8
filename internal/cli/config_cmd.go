package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
)

const version = "v1.0.0-dev"

func (r *Root) configShow(w io.Writer) error {
	cfgPath := os.Getenv("LEAFFLICTION_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/leaffliction/config.json"
	}
	fmt.Fprintf(w, "Current configuration:\n")
	fmt.Fprintf(w, "Config file: %s\n\n", cfgPath)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.cfg)
}

func (r *Root) printVersion(w io.Writer) {
	fmt.Fprintf(w, "Leaffliction %s\n", version)
	fmt.Fprintf(w, "Built with Go %s\n", runtime.Version())
}
