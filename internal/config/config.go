// Package config loads tablewalk settings from defaults, a YAML file and
// TABLEWALK_* environment variables. Command-line flags are applied last by
// the cmd package.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
	"gopkg.in/yaml.v3"

	"tablewalk/internal/signature"
	"tablewalk/internal/walker"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "TABLEWALK_"

// Backends.
const (
	BackendNative = "native"
	BackendGhidra = "ghidra"
)

// Config is the full set of settings for one run.
type Config struct {
	Binary string  `yaml:"binary,omitempty" json:"binary,omitempty" env:"BINARY" jsonschema:"title=Binary,description=Path of the program to analyse"`
	Start  Address `yaml:"start" json:"start" env:"START" jsonschema:"title=Start,description=Address of the first slot"`
	End    Address `yaml:"end" json:"end" env:"END" jsonschema:"title=End,description=Address of the last slot (inclusive)"`

	Stride        int `yaml:"stride" json:"stride" env:"STRIDE" jsonschema:"minimum=1,default=8"`
	PointerSize   int `yaml:"pointer_size" json:"pointer_size" env:"POINTER_SIZE" jsonschema:"enum=4,enum=8,default=4"`
	PointerOffset int `yaml:"pointer_offset" json:"pointer_offset" env:"POINTER_OFFSET" jsonschema:"minimum=0,default=0"`
	TagOffset     int `yaml:"tag_offset" json:"tag_offset" env:"TAG_OFFSET" jsonschema:"minimum=0,default=4"`

	Backend          string            `yaml:"backend" json:"backend" env:"BACKEND" jsonschema:"enum=native,enum=ghidra,default=native"`
	DecompileTimeout time.Duration     `yaml:"decompile_timeout" json:"decompile_timeout" env:"DECOMPILE_TIMEOUT" jsonschema:"type=string,description=Per-function budget such as 1000s"`
	Output           string            `yaml:"output,omitempty" json:"output,omitempty" env:"OUTPUT" jsonschema:"description=Dump path; defaults to functions.txt in the home directory"`
	TagFormat        string            `yaml:"tag_format" json:"tag_format" env:"TAG_FORMAT" jsonschema:"enum=fixed,enum=legacy,default=fixed"`
	Params           string            `yaml:"params" json:"params" env:"PARAMS" jsonschema:"enum=legacy,enum=tolerant,enum=host,default=legacy"`
	KeepGoing        bool              `yaml:"keep_going" json:"keep_going" env:"KEEP_GOING" jsonschema:"description=Record per-slot failures instead of aborting"`
	KnownOnly        bool              `yaml:"known_only" json:"known_only" env:"KNOWN_ONLY" jsonschema:"description=Skip slots whose tag is not in the tag table"`
	Enrich           []string          `yaml:"enrich,omitempty" json:"enrich,omitempty" env:"ENRICH" envSeparator:"," jsonschema:"description=Enrichers to run: known-tags pointers demangle"`
	Tags             map[string]string `yaml:"tags,omitempty" json:"tags,omitempty" env:"TAGS" jsonschema:"description=Extra query codes mapped to names"`
	CacheSize        int               `yaml:"cache_size" json:"cache_size" env:"CACHE_SIZE" jsonschema:"minimum=0,default=256"`

	Ghidra Ghidra `yaml:"ghidra" json:"ghidra" envPrefix:"GHIDRA_"`
}

// Ghidra configures the headless Ghidra backend.
type Ghidra struct {
	Home        string `yaml:"home,omitempty" json:"home,omitempty" env:"HOME" jsonschema:"description=Ghidra install directory; GHIDRA_HOME and PATH are searched when empty"`
	ProjectDir  string `yaml:"project_dir,omitempty" json:"project_dir,omitempty" env:"PROJECT_DIR" jsonschema:"description=Where the throwaway project is created"`
	KeepProject bool   `yaml:"keep_project" json:"keep_project" env:"KEEP_PROJECT"`
	MaxMemory   string `yaml:"max_memory,omitempty" json:"max_memory,omitempty" env:"MAX_MEMORY" jsonschema:"description=JVM heap for analyzeHeadless such as 4G"`
}

// Default returns the built-in settings.
func Default() *Config {
	w := walker.DefaultConfig()
	return &Config{
		Stride:           w.Stride,
		PointerSize:      w.PointerSize,
		PointerOffset:    w.PointerOffset,
		TagOffset:        w.TagOffset,
		Backend:          BackendNative,
		DecompileTimeout: w.DecompileTimeout,
		TagFormat:        string(w.TagFormat),
		Params:           string(w.Params),
		CacheSize:        256,
	}
}

// Load applies the file layer (when path is set) and the environment layer
// on top of the defaults.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// load takes an explicit environment for tests; nil means the process env.
func load(path string, environ map[string]string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load config from file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML %s: %w", path, err)
	}
	return nil
}

// Validate checks values that flags and files can get wrong.
func (c *Config) Validate() error {
	var problems []string
	if c.Backend != BackendNative && c.Backend != BackendGhidra {
		problems = append(problems, fmt.Sprintf("backend %q (want native or ghidra)", c.Backend))
	}
	if c.CacheSize < 0 {
		problems = append(problems, "cache_size must not be negative")
	}
	if c.DecompileTimeout < 0 {
		problems = append(problems, "decompile_timeout must not be negative")
	}
	if err := c.Walker().Validate(); err != nil {
		problems = append(problems, strings.TrimPrefix(err.Error(), walker.ErrInvalidConfig.Error()+": "))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Walker converts to the walker's geometry and policy.
func (c *Config) Walker() walker.Config {
	return walker.Config{
		Start:            uint64(c.Start),
		End:              uint64(c.End),
		Stride:           c.Stride,
		PointerSize:      c.PointerSize,
		PointerOffset:    c.PointerOffset,
		TagOffset:        c.TagOffset,
		TagFormat:        walker.TagFormat(c.TagFormat),
		Params:           signature.Mode(c.Params),
		DecompileTimeout: c.DecompileTimeout,
		KeepGoing:        c.KeepGoing,
		KnownOnly:        c.KnownOnly,
	}
}
