package coordinator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the optional on-disk shape for --config <path>: the same
// fields CLI flags and DMTCP_* env vars can set, carried here so an
// operator can check a coordinator's settings into version control. It
// is new relative to the original C++ coordinator (flag/env only): a
// long-running daemon tends to grow an optional config-file layer
// beside flags, and this port carries one too.
type ConfigFile struct {
	Port               int    `yaml:"port"`
	CheckpointDir      string `yaml:"ckptdir"`
	TmpDir             string `yaml:"tmpdir"`
	CheckpointInterval int    `yaml:"interval"`
	ExitOnLast         bool   `yaml:"exitOnLast"`
	Host               string `yaml:"host"`
	LogLevel           string `yaml:"logLevel"`
	LogJSON            bool   `yaml:"logJSON"`
	MetricsAddr        string `yaml:"metricsAddr"`
}

// ApplyConfigFile reads path as YAML and overlays any field it sets onto
// o. Zero-valued fields in the file are treated as "not set" and left
// alone. The config file sits beneath both flags and env vars: cobra has
// already parsed flags into o by the time this runs, so every overlay is
// gated on flagSet reporting the corresponding flag untouched, and the
// caller applies env vars afterward (which likewise skip flag-set
// fields), giving flags > env > config > defaults.
func (o *Options) ApplyConfigFile(path string, flagSet func(name string) bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("coordinator: read config file %s: %w", path, err)
	}
	var cfg ConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("coordinator: parse config file %s: %w", path, err)
	}
	if cfg.Port != 0 && !flagSet("port") {
		o.Port = cfg.Port
	}
	if cfg.CheckpointDir != "" && !flagSet("ckptdir") {
		o.CheckpointDir = cfg.CheckpointDir
	}
	if cfg.TmpDir != "" && !flagSet("tmpdir") {
		o.TmpDir = cfg.TmpDir
	}
	if cfg.CheckpointInterval != 0 && !flagSet("interval") {
		o.CheckpointInterval = cfg.CheckpointInterval
	}
	if cfg.ExitOnLast && !flagSet("exit-on-last") {
		o.ExitOnLast = cfg.ExitOnLast
	}
	if cfg.Host != "" && !flagSet("host") {
		o.Host = cfg.Host
	}
	if cfg.MetricsAddr != "" && !flagSet("metrics-addr") {
		o.MetricsAddr = cfg.MetricsAddr
	}
	if cfg.LogLevel != "" && !flagSet("log-level") {
		o.LogLevel = cfg.LogLevel
	}
	if cfg.LogJSON && !flagSet("log-json") {
		o.LogJSON = cfg.LogJSON
	}
	return nil
}
