package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loadTarget struct {
	ProcessID string `mapstructure:"process_id"`
	Name      string `mapstructure:"name"`
	Enabled   bool   `mapstructure:"enabled"`
	Log       struct {
		OutputPath string `mapstructure:"output_path"`
	} `mapstructure:"log"`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, "name: file\nprocess_id: from-file\n")
	logPath := filepath.Join(t.TempDir(), "logs", "out.log")
	t.Setenv("XDOORIA_NAME", "env")

	target := &loadTarget{Enabled: true}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	mgr, paths, err := Load(fs, []string{"-c", path, "--log.path", logPath, "--process-id", "flag"}, target)
	require.NoError(t, err)
	require.NotNil(t, mgr)

	assert.Equal(t, "env", target.Name)
	assert.Equal(t, "flag", target.ProcessID)
	assert.True(t, target.Enabled, "values absent from every source keep their preset")
	assert.Equal(t, logPath, target.Log.OutputPath)
	assert.Equal(t, Paths{Config: path, Log: logPath}, paths)
	assert.DirExists(t, filepath.Dir(logPath))
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "name: via-env\n")
	t.Setenv("XDOORIA_CONFIG", path)

	var target loadTarget
	_, paths, err := Load(pflag.NewFlagSet("test", pflag.ContinueOnError), []string{"--log.path", filepath.Join(t.TempDir(), "x.log")}, &target)
	require.NoError(t, err)
	assert.Equal(t, path, paths.Config)
	assert.Equal(t, "via-env", target.Name)
}

func TestLoadMissingFile(t *testing.T) {
	var target loadTarget
	_, _, err := Load(pflag.NewFlagSet("test", pflag.ContinueOnError), []string{"-c", filepath.Join(t.TempDir(), "absent.yaml")}, &target)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
