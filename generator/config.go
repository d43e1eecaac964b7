package generator

import (
	"github.com/BurntSushi/toml"

	"github.com/wippyai/casegen/errors"
	"github.com/wippyai/casegen/instructions"
)

// Default output paths, relative to the working directory.
const (
	DefaultOutput         = "Python/generated_cases.c.h"
	DefaultExecutorOutput = "Python/executor_cases.c.h"
	DefaultMetadataOutput = "Include/internal/pycore_opcode_metadata.h"
)

// Config configures Run. Zero values select defaults.
type Config struct {
	// Inputs are declaration files, loaded in order.
	Inputs []string `toml:"inputs"`
	// Output receives the tier-one cases.
	Output string `toml:"output"`
	// ExecutorOutput receives the tier-two executor cases.
	ExecutorOutput string `toml:"executor_output"`
	// MetadataOutput receives the opcode metadata header.
	MetadataOutput string `toml:"metadata_output"`
	// EmitLineDirectives adds #line directives pointing back at the
	// declaration source.
	EmitLineDirectives bool `toml:"emit_line_directives"`
	// TraceExit names the instruction that may end a trace.
	TraceExit string `toml:"trace_exit"`
	// Forbidden replaces the identifiers that disqualify a micro-op.
	Forbidden []string `toml:"forbidden"`
	// Check reports stale outputs instead of writing them.
	Check bool `toml:"-"`
}

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			At(path, 0).
			Detail("decode config").
			Cause(err).
			Build()
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			At(path, 0).
			Value(undecoded[0].String()).
			Detail("unknown key %q", undecoded[0].String()).
			Build()
	}
	return cfg, nil
}

// normalize fills in defaults.
func (c Config) normalize() Config {
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.ExecutorOutput == "" {
		c.ExecutorOutput = DefaultExecutorOutput
	}
	if c.MetadataOutput == "" {
		c.MetadataOutput = DefaultMetadataOutput
	}
	if c.TraceExit == "" {
		c.TraceExit = instructions.DefaultTraceExit
	}
	return c
}

// Validate reports configuration that cannot produce output.
func (c Config) Validate() error {
	if len(c.Inputs) == 0 {
		return errors.InvalidInput(errors.PhaseConfig, "no input files")
	}
	c = c.normalize()
	seen := map[string]bool{}
	for _, out := range []string{c.Output, c.ExecutorOutput, c.MetadataOutput} {
		if seen[out] {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Value(out).
				Detail("output %s configured twice", out).
				Build()
		}
		seen[out] = true
	}
	return nil
}

// Policy returns the micro-op policy described by the config.
func (c Config) Policy() instructions.UopPolicy {
	c = c.normalize()
	p := instructions.DefaultUopPolicy()
	p.TraceExit = c.TraceExit
	if len(c.Forbidden) > 0 {
		p.Forbidden = append([]string(nil), c.Forbidden...)
	}
	return p
}
