// Package config loads the node configuration.
//
// Configuration comes from an optional YAML file layered over Default, then
// command-line flags. The result is checked against an embedded CUE schema
// before use, so a bad value fails at startup rather than mid-pass.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full node configuration.
type Config struct {
	Node  NodeConfig  `yaml:"node"`
	Sync  SyncConfig  `yaml:"sync"`
	Clock ClockConfig `yaml:"clock"`
}

// NodeConfig identifies this node and its storage.
type NodeConfig struct {
	// Endpoint is the URL other nodes reach this node at.
	Endpoint string `yaml:"endpoint"`
	// DB is the SQLite database path.
	DB string `yaml:"db"`
	// Listen is the HTTP listen address for serve.
	Listen string `yaml:"listen"`
	// ReplicaSets is the replica-set file exported by the node registry.
	ReplicaSets string `yaml:"replica_sets"`
}

// SyncConfig tunes node-to-node replication.
type SyncConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	Pacing         time.Duration `yaml:"pacing"`
	Interval       time.Duration `yaml:"interval"`
	WorkersPerNode int           `yaml:"workers_per_node"`
	UserWorkers    int           `yaml:"user_workers"`
	ExportPageSize int           `yaml:"export_page_size"`
}

// ClockConfig tunes clock assignment.
type ClockConfig struct {
	UserWorkers int `yaml:"user_workers"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Node: NodeConfig{
			DB:     "cnode.db",
			Listen: ":4000",
		},
		Sync: SyncConfig{
			Timeout:        5 * time.Second,
			Pacing:         500 * time.Millisecond,
			Interval:       0,
			WorkersPerNode: 4,
			UserWorkers:    8,
			ExportPageSize: 1000,
		},
		Clock: ClockConfig{
			UserWorkers: 8,
		},
	}
}

// Load reads path over Default and validates the result. An empty path
// returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c.view()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// view is the schema's shape of c: the file's keys, durations in nanoseconds.
func (c Config) view() map[string]any {
	return map[string]any{
		"node": map[string]any{
			"endpoint":     c.Node.Endpoint,
			"db":           c.Node.DB,
			"listen":       c.Node.Listen,
			"replica_sets": c.Node.ReplicaSets,
		},
		"sync": map[string]any{
			"timeout":          int64(c.Sync.Timeout),
			"pacing":           int64(c.Sync.Pacing),
			"interval":         int64(c.Sync.Interval),
			"workers_per_node": c.Sync.WorkersPerNode,
			"user_workers":     c.Sync.UserWorkers,
			"export_page_size": c.Sync.ExportPageSize,
		},
		"clock": map[string]any{
			"user_workers": c.Clock.UserWorkers,
		},
	}
}
