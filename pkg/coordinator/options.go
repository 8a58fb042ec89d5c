package coordinator

import (
	"os"
	"strconv"
)

// DefaultPort is the coordinator's default listening port.
const DefaultPort = 7779

// BatchModeInterval is the checkpoint interval --batch installs when the
// caller didn't pass --interval explicitly.
const BatchModeInterval = 3600

// InheritedListenerFD is the descriptor number the coordinator checks
// for an already-bound, inherited listening socket before opening its
// own.
const InheritedListenerFD = 820

// Options is the coordinator's fully-resolved configuration, assembled
// once at startup from CLI flags layered over environment variables
//. It is passed by value into Coordinator construction; there
// is no global mutable configuration singleton.
type Options struct {
	Port               int
	CheckpointDir      string
	TmpDir             string
	CheckpointInterval int
	ExitOnLast         bool
	Background         bool
	Batch              bool
	Host               string

	// Ambient-stack fields: not part of the original C++ coordinator's
	// flag/env surface; this port's CLI exposes them for its own
	// logging and metrics setup.
	LogLevel    string
	LogJSON     bool
	MetricsAddr string
}

// DefaultOptions returns the coordinator's defaults before CLI flags or
// environment variables are applied.
func DefaultOptions() Options {
	return Options{
		Port:          DefaultPort,
		CheckpointDir: ".",
		TmpDir:        os.TempDir(),
		LogLevel:      "info",
		MetricsAddr:   "127.0.0.1:9090",
	}
}

// ApplyEnv overlays the DMTCP_* environment variables onto o,
// following the C++ coordinator's convention that env vars are
// consulted only where a flag wasn't explicitly given. Because cobra
// has already parsed flags into o by the time this runs, flagSet
// reports whether a named flag was passed on the command line; env
// values are skipped for those fields so an explicit flag always wins.
func (o *Options) ApplyEnv(flagSet func(name string) bool) {
	if v := os.Getenv("DMTCP_PORT"); v != "" && !flagSet("port") {
		if p, err := strconv.Atoi(v); err == nil {
			o.Port = p
		}
	}
	if v := os.Getenv("DMTCP_CHECKPOINT_DIR"); v != "" && !flagSet("ckptdir") {
		o.CheckpointDir = v
	}
	if v := os.Getenv("DMTCP_TMPDIR"); v != "" && !flagSet("tmpdir") {
		o.TmpDir = v
	}
	if v := os.Getenv("DMTCP_CHECKPOINT_INTERVAL"); v != "" && !flagSet("interval") {
		if iv, err := strconv.Atoi(v); err == nil {
			o.CheckpointInterval = iv
		}
	}
	if v := os.Getenv("DMTCP_HOST"); v != "" && !flagSet("host") {
		o.Host = v
	}
}

// Finalize applies the --batch default interval and exports ckptdir/
// tmpdir back into the environment, mirroring the original coordinator
// setting DMTCP_CHECKPOINT_DIR/DMTCP_TMPDIR so any child processes (and
// the restart-script writer) observe the resolved values.
func (o *Options) Finalize() {
	if o.Batch && o.CheckpointInterval == 0 {
		o.CheckpointInterval = BatchModeInterval
	}
	os.Setenv("DMTCP_CHECKPOINT_DIR", o.CheckpointDir)
	os.Setenv("DMTCP_TMPDIR", o.TmpDir)
}
