package cmd

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/pdes/kernel"
)

//go:embed config.cue
var configSchema string

// validateConfigDocument checks a raw YAML document against the #Config
// schema before it is decoded, so range and enum errors point at the field
// the user wrote.
func validateConfigDocument(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parse config: %v", kernel.ErrConfig, err)
	}
	if len(doc) == 0 {
		return nil
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema, cue.Filename("config.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", kernel.ErrConfig, strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

// loadConfig reads and validates a config file. An empty path gives the
// defaults.
func loadConfig(path string) (kernel.Config, error) {
	if path == "" {
		return kernel.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return kernel.DefaultConfig(), fmt.Errorf("read config: %w", err)
	}
	if err := validateConfigDocument(data); err != nil {
		return kernel.DefaultConfig(), fmt.Errorf("%s: %w", path, err)
	}
	return kernel.LoadConfig(bytes.NewReader(data))
}
