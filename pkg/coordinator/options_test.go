package coordinator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func flagsChanged(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

// TestApplyEnvSkipsExplicitFlags: an explicit -p on the command line
// must beat DMTCP_PORT, while fields with no flag given still pick up
// their env values.
func TestApplyEnvSkipsExplicitFlags(t *testing.T) {
	t.Setenv("DMTCP_PORT", "9999")
	t.Setenv("DMTCP_CHECKPOINT_INTERVAL", "120")

	o := DefaultOptions()
	o.Port = 8000 // as parsed from -p 8000
	o.ApplyEnv(flagsChanged("port"))

	require.Equal(t, 8000, o.Port, "explicit -p must win over DMTCP_PORT")
	require.Equal(t, 120, o.CheckpointInterval, "env applies where no flag was given")
}

func TestApplyEnvFillsUnsetFields(t *testing.T) {
	t.Setenv("DMTCP_PORT", "9999")
	t.Setenv("DMTCP_CHECKPOINT_DIR", "/ckpt")
	t.Setenv("DMTCP_HOST", "coordhost")

	o := DefaultOptions()
	o.ApplyEnv(flagsChanged())

	require.Equal(t, 9999, o.Port)
	require.Equal(t, "/ckpt", o.CheckpointDir)
	require.Equal(t, "coordhost", o.Host)
}

// TestApplyConfigFileSitsBeneathFlagsAndEnv: the YAML layer fills only
// fields no flag touched, and a later ApplyEnv still overrides what
// the file set.
func TestApplyConfigFileSitsBeneathFlagsAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7001\ninterval: 30\ntmpdir: /from-config\n"), 0644))
	t.Setenv("DMTCP_CHECKPOINT_INTERVAL", "60")

	o := DefaultOptions()
	o.Port = 8000 // as parsed from -p 8000
	flagSet := flagsChanged("port")
	require.NoError(t, o.ApplyConfigFile(path, flagSet))
	o.ApplyEnv(flagSet)

	require.Equal(t, 8000, o.Port, "explicit -p must win over the config file")
	require.Equal(t, 60, o.CheckpointInterval, "env must win over the config file")
	require.Equal(t, "/from-config", o.TmpDir, "config file fills fields nothing else set")
}
