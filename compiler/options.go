package compiler

import (
	"github.com/BurntSushi/toml"
)

// Options controls compilation and optimization behavior.
type Options struct {
	// NoOpt disables the static optimizer; the generated stream is
	// concretized as-is.
	NoOpt bool `toml:"no_opt"`

	// ReportProfile enables execution profiling support.
	ReportProfile bool `toml:"report_profile"`

	// Inliner suppresses unused-aggregate warnings, since inlining
	// can legitimately strand initializations.
	Inliner bool `toml:"inliner"`

	// DumpCode dumps each compiled body.
	DumpCode bool `toml:"dump_code"`
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() *Options {
	return &Options{}
}

// LoadOptions reads options from a TOML file.
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()
	if _, err := toml.DecodeFile(path, opts); err != nil {
		return nil, err
	}
	return opts, nil
}
