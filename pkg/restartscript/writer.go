package restartscript

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// restartCmd is the worker-side relaunch binary the generated script
// execs or ssh-fans-out to. It is an external collaborator;
// only its name is needed here.
const restartCmd = "dmtcp_restart"

// Config carries everything the writer needs that isn't part of the
// per-host filename map: the values the emitted script bakes in as
// shell variable defaults.
type Config struct {
	CheckpointDir      string // DMTCP_CHECKPOINT_DIR, default "."
	CoordHost          string
	CoordPort          int
	CheckpointInterval int
	BatchMode          bool
	LocalPrefix        string
	RemotePrefix       string
	ProgramDir         string // install-tree dir searched when dmt_rstr_cmd isn't on $PATH
}

// Result reports the two files Write produced.
type Result struct {
	ScriptPath  string
	SymlinkPath string
}

// Write emits the unique restart script for one checkpoint cycle and
// (re)points the stable dmtcp_restart_script.sh symlink at it, mirroring
// DmtcpCoordinator::writeRestartScript. filenames maps hostname to the
// checkpoint image paths that host's workers reported via
// DMT_CKPT_FILENAME; numPeers is the total worker count for the
// informational header comment.
func Write(cfg Config, computationID string, generation int32, filenames map[string][]string, numPeers int) (Result, error) {
	dir := cfg.CheckpointDir
	if dir == "" {
		dir = "."
	}

	scriptPath := filepath.Join(dir, "dmtcp_restart_script.sh")
	uniqueName := fmt.Sprintf("dmtcp_restart_script_%s_%05d.sh", computationID, generation)
	uniquePath := filepath.Join(dir, uniqueName)

	hostname := cfg.CoordHost
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			h = "localhost"
		}
		hostname = h
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString(checkLocal)
	b.WriteString(usage)

	fmt.Fprintf(&b, "coord_host=$DMTCP_HOST\n"+
		"if test -z \"$DMTCP_HOST\"; then\n"+
		"  coord_host=%s\nfi\n\n"+
		"coord_port=$DMTCP_PORT\n"+
		"if test -z \"$DMTCP_PORT\"; then\n"+
		"  coord_port=%d\nfi\n\n"+
		"checkpoint_interval=$DMTCP_CHECKPOINT_INTERVAL\n"+
		"if test -z \"$DMTCP_CHECKPOINT_INTERVAL\"; then\n"+
		"  checkpoint_interval=%d\nfi\n\n",
		hostname, cfg.CoordPort, cfg.CheckpointInterval)

	if cfg.BatchMode {
		b.WriteString("maybebatch='--batch'\n\n")
	} else {
		b.WriteString("maybebatch=\n\n")
	}

	b.WriteString(cmdlineArgHandler)

	fmt.Fprintf(&b, "dmt_rstr_cmd=%s\n"+
		"which %s > /dev/null \\\n"+
		" || dmt_rstr_cmd=%s/%s\n\n",
		restartCmd, restartCmd, cfg.ProgramDir, restartCmd)

	fmt.Fprintf(&b, "local_prefix=%s\n", cfg.LocalPrefix)
	fmt.Fprintf(&b, "remote_prefix=%s\n", cfg.RemotePrefix)
	fmt.Fprintf(&b, "remote_dmt_rstr_cmd=%s\n"+
		"if ! test -z \"$remote_prefix\"; then\n"+
		"  remote_dmt_rstr_cmd=\"$remote_prefix/bin/%s\"\n"+
		"fi\n\n", restartCmd, restartCmd)

	hosts := make([]string, 0, len(filenames))
	for h := range filenames {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	fmt.Fprintf(&b, "# Number of hosts in the computation = %d\n"+
		"# Number of processes in the computation = %d\n\n", len(hosts), numPeers)

	if len(hosts) == 1 {
		h := hosts[0]
		var files strings.Builder
		for _, f := range filenames[h] {
			files.WriteString(" ")
			files.WriteString(f)
		}
		fmt.Fprintf(&b, "given_ckpt_files=\"%s\"\n\n", files.String())
		b.WriteString(singleHostProcessing)
	} else {
		b.WriteString(multiHostSyntaxComment)
		b.WriteString("worker_ckpts='")
		for _, h := range hosts {
			fmt.Fprintf(&b, "\n :: %s :bg:", h)
			for _, f := range filenames[h] {
				fmt.Fprintf(&b, " %s", f)
			}
		}
		b.WriteString("\n'\n\n")
		b.WriteString(discoverRM)
		b.WriteString(multiHostProcessing)
		b.WriteString(multiHostLocalExecAndWait)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Result{}, fmt.Errorf("restartscript: create checkpoint dir: %w", err)
	}
	if err := os.WriteFile(uniquePath, []byte(b.String()), 0755); err != nil {
		return Result{}, fmt.Errorf("restartscript: write %s: %w", uniquePath, err)
	}

	os.Remove(scriptPath)
	if err := os.Symlink(uniqueName, scriptPath); err != nil {
		return Result{}, fmt.Errorf("restartscript: symlink %s -> %s: %w", scriptPath, uniqueName, err)
	}

	return Result{ScriptPath: uniquePath, SymlinkPath: scriptPath}, nil
}
