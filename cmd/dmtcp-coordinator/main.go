// Command dmtcp-coordinator runs the single coordinator process that
// orchestrates checkpoint and restart barriers for one distributed
// dmtcp computation. It owns CLI/env/config-file
// resolution, process backgrounding, the HTTP metrics/health surface,
// and signal-driven shutdown; the state machine itself lives in
// pkg/coordinator.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/dmtcp-coordinator/pkg/coordinator"
	"github.com/cuemby/dmtcp-coordinator/pkg/health"
	"github.com/cuemby/dmtcp-coordinator/pkg/log"
	"github.com/cuemby/dmtcp-coordinator/pkg/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version information, set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// backgroundMarker is the env var the coordinator sets on its own
// relaunched child so the re-exec in runBackground doesn't loop.
const backgroundMarker = "DMTCP_COORDINATOR_BACKGROUNDED"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var opts = coordinator.DefaultOptions()
var configPath string

var rootCmd = &cobra.Command{
	Use:     "dmtcp-coordinator [port]",
	Short:   "Coordinate checkpoint/restart barriers for a dmtcp computation",
	Version: Version,
	Args:    cobra.MaximumNArgs(1),
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"dmtcp-coordinator version %s\ncommit %s\nbuilt %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.Flags()
	flags.IntVarP(&opts.Port, "port", "p", opts.Port, "Listen port (env DMTCP_PORT)")
	flags.StringVarP(&opts.CheckpointDir, "ckptdir", "c", opts.CheckpointDir, "Checkpoint directory (env DMTCP_CHECKPOINT_DIR)")
	flags.StringVarP(&opts.TmpDir, "tmpdir", "t", opts.TmpDir, "Temp directory (env DMTCP_TMPDIR)")
	flags.IntVarP(&opts.CheckpointInterval, "interval", "i", opts.CheckpointInterval, "Checkpoint interval in seconds, 0 disables (env DMTCP_CHECKPOINT_INTERVAL)")
	flags.BoolVar(&opts.ExitOnLast, "exit-on-last", false, "Exit when the last client disconnects")
	flags.BoolVar(&opts.Background, "background", false, "Fork and detach stdio to /dev/null")
	flags.BoolVar(&opts.Batch, "batch", false, "Detach stdio to /dev/null, default interval 3600s")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.LogJSON, "log-json", opts.LogJSON, "Output logs in JSON format")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "Address for /metrics, /health, /ready, /live")
	flags.StringVar(&configPath, "config", "", "Optional YAML config file; CLI flags and env vars win on conflict")

	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())
}

func run(cmd *cobra.Command, args []string) error {
	if opts.Background && opts.Batch {
		return fmt.Errorf("--background and --batch are mutually exclusive")
	}

	// Layering is flags > env > config file > defaults. cobra has
	// already parsed explicit flags into opts, so both overlays skip any
	// field whose flag was passed on the command line, and env is
	// applied after the config file so it wins the remaining conflicts.
	flagSet := cmd.Flags().Changed
	if configPath != "" {
		if err := opts.ApplyConfigFile(configPath, flagSet); err != nil {
			return err
		}
	}
	opts.ApplyEnv(flagSet)

	// Order-insensitive CLI: a bare positional argument is also the
	// port, and wins over everything else.
	if len(args) == 1 {
		p, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		opts.Port = p
	}

	opts.Finalize()

	log.Init(log.Config{Level: log.Level(opts.LogLevel), JSONOutput: opts.LogJSON})
	metrics.SetVersion(Version)

	if opts.Background && os.Getenv(backgroundMarker) == "" {
		return runBackground()
	}
	if opts.Background || opts.Batch {
		redirectStdioToDevNull()
	}

	runID := uuid.New().String()
	l := log.WithComponent("main")
	l.Info().Str("run_id", runID).Int("port", opts.Port).Msg("dmtcp-coordinator: starting")

	c := coordinator.New(opts)
	listener, err := c.Listen()
	if err != nil {
		l.Error().Err(err).Msg("dmtcp-coordinator: failed to bind listener")
		return err
	}

	metrics.RegisterComponent("listener", true, "bound")
	metrics.RegisterComponent("eventloop", true, "running")
	go serveMetrics(opts.MetricsAddr, l)
	go watchListener(fmt.Sprintf("127.0.0.1:%d", opts.Port), l)
	go tailEvents(c, l)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		l.Info().Msg("dmtcp-coordinator: signal received, shutting down like operator 'q'")
		c.Shutdown(0)
	}()

	return c.Run(listener)
}

// watchListener periodically dials the coordinator's own listening
// socket and feeds the result into the "listener" readiness component,
// so /ready flips to not_ready if the accept loop ever dies out from
// under the process.
func watchListener(addr string, l zerolog.Logger) {
	cfg := health.DefaultConfig()
	cfg.Interval = 15 * time.Second
	checker := health.NewTCPChecker(addr).WithTimeout(cfg.Timeout)
	status := health.NewStatus()
	for {
		time.Sleep(cfg.Interval)
		res := checker.Check(context.Background())
		status.Update(res, cfg)
		metrics.UpdateComponent("listener", status.Healthy, res.Message)
		if !res.Healthy {
			l.Warn().Str("addr", addr).Str("result", res.Message).Msg("dmtcp-coordinator: listener self-check failed")
		}
	}
}

// tailEvents mirrors the coordinator's lifecycle events into the debug
// log, the process-local equivalent of the diagnostic subscribers
// pkg/events is written for.
func tailEvents(c *coordinator.Coordinator, l zerolog.Logger) {
	sub := c.Events().Subscribe()
	for ev := range sub {
		l.Debug().Str("event", string(ev.Type)).Str("detail", ev.Message).Msg("dmtcp-coordinator: event")
	}
}

func serveMetrics(addr string, l zerolog.Logger) {
	l.Info().Str("addr", addr).Msg("dmtcp-coordinator: metrics/health endpoints listening")
	if err := http.ListenAndServe(addr, nil); err != nil {
		l.Warn().Err(err).Msg("dmtcp-coordinator: metrics server stopped")
	}
}

func redirectStdioToDevNull() {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return
	}
	os.Stdin = devNull
	os.Stdout = devNull
	os.Stderr = devNull
}

// runBackground re-execs the current binary with the same arguments,
// detached into its own session with stdio pointed at /dev/null, then
// exits the parent immediately. Go has no
// portable bare fork(); spawning a detached child via os/exec with
// Setsid is the standard substitute (see DESIGN.md).
func runBackground() error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("dmtcp-coordinator: open /dev/null: %w", err)
	}
	defer devNull.Close()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("dmtcp-coordinator: resolve executable: %w", err)
	}

	child := exec.Command(self, os.Args[1:]...)
	child.Env = append(os.Environ(), backgroundMarker+"=1")
	child.Stdin = devNull
	child.Stdout = devNull
	child.Stderr = devNull
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("dmtcp-coordinator: background fork: %w", err)
	}
	fmt.Fprintf(os.Stdout, "dmtcp-coordinator: backgrounded as pid %d\n", child.Process.Pid)
	return nil
}
