package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoaderWithEnv(envMap(nil)).Load("", "")
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout())
	assert.Equal(t, uint64(1024*1024*1024), cfg.Sandbox.MemoryLimitBytes())
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeFile(t, "boxps.toml", `
[sandbox]
install_dir = "/opt/box-ps"
timeout = 0
memory_limit_mb = 512

[report]
dir = "/var/lib/boxps/reports"
retries = 4

[history]
path = "/var/lib/boxps/history.db"
`)

	cfg, err := NewLoaderWithEnv(envMap(nil)).Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "/opt/box-ps", cfg.Sandbox.InstallDir)
	assert.Equal(t, time.Duration(0), cfg.Sandbox.Timeout(), "explicit 0 means unlimited")
	assert.Equal(t, int64(512), cfg.Sandbox.MemoryLimitMB)
	assert.Equal(t, DefaultInterpreter, cfg.Sandbox.Interpreter, "unset keys keep defaults")
	assert.Equal(t, 4, cfg.Report.Retries)
	assert.Equal(t, "/var/lib/boxps/history.db", cfg.History.Path)
}

func TestLoad_Precedence(t *testing.T) {
	tomlPath := writeFile(t, "boxps.toml", `
[sandbox]
install_dir = "/from/toml"
interpreter = "pwsh-toml"
timeout = 10
`)
	envPath := writeFile(t, ".env", "BOXPS=/from/dotenv\nBOXPS_TIMEOUT=20\n")

	cfg, err := NewLoaderWithEnv(envMap(map[string]string{
		TimeoutEnvVar: "45s",
	})).Load(tomlPath, envPath)
	require.NoError(t, err)

	assert.Equal(t, "/from/dotenv", cfg.Sandbox.InstallDir, ".env overrides TOML")
	assert.Equal(t, int64(45), cfg.Sandbox.TimeoutSeconds, "process env overrides .env")
	assert.Equal(t, "pwsh-toml", cfg.Sandbox.Interpreter)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		toml    string
		envFile string
		env     map[string]string
		kind    boxerrors.Kind
	}{
		{
			name: "unknown toml key",
			toml: "[sandbox]\nbogus = 1\n",
			kind: boxerrors.KindBadEnvVar,
		},
		{
			name: "malformed toml",
			toml: "[sandbox\n",
			kind: boxerrors.KindBadEnvVar,
		},
		{
			name:    "malformed env file",
			envFile: "BOXPS='unterminated\n",
			kind:    boxerrors.KindBadEnvVar,
		},
		{
			name: "empty BOXPS",
			env:  map[string]string{InstallDirEnvVar: ""},
			kind: boxerrors.KindBadEnvVar,
		},
		{
			name: "non numeric timeout",
			env:  map[string]string{TimeoutEnvVar: "soon"},
			kind: boxerrors.KindBadEnvVar,
		},
		{
			name: "negative timeout",
			env:  map[string]string{TimeoutEnvVar: "-5"},
			kind: boxerrors.KindBadEnvVar,
		},
		{
			name: "timeout above maximum",
			env:  map[string]string{TimeoutEnvVar: "90000"},
			kind: boxerrors.KindBadEnvVar,
		},
		{
			name: "non numeric memory limit",
			env:  map[string]string{MemoryLimitEnvVar: "1G"},
			kind: boxerrors.KindBadEnvVar,
		},
		{
			name: "entry script escapes install dir",
			toml: "[sandbox]\nentry_script = \"../evil.ps1\"\n",
			kind: boxerrors.KindBadEnvVar,
		},
		{
			name: "too many retries",
			toml: "[report]\nretries = 99\n",
			kind: boxerrors.KindBadEnvVar,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tomlPath, envPath string
			if tt.toml != "" {
				tomlPath = writeFile(t, "boxps.toml", tt.toml)
			}
			if tt.envFile != "" {
				envPath = writeFile(t, ".env", tt.envFile)
			}

			cfg, err := NewLoaderWithEnv(envMap(tt.env)).Load(tomlPath, envPath)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.True(t, boxerrors.Classify(err, tt.kind), "got %v", err)
			assert.True(t, boxerrors.Classify(err, boxerrors.KindEnv))
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := NewLoaderWithEnv(envMap(nil)).Load(filepath.Join(t.TempDir(), "absent.toml"), "")
	require.Error(t, err)
	assert.True(t, boxerrors.Classify(err, boxerrors.KindBadEnvVar))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseTimeoutSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"30", 30},
		{" 5 ", 5},
		{"2m", 120},
		{"1500ms", 2},
		{"0", 0},
	}
	for _, tt := range tests {
		got, err := parseTimeoutSeconds(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestOverrides_Apply(t *testing.T) {
	cfg, err := NewLoaderWithEnv(envMap(map[string]string{
		TimeoutEnvVar:   "10",
		ReportDirEnvVar: "/from/env",
	})).Load("", "")
	require.NoError(t, err)

	require.NoError(t, Overrides{}.Apply(cfg))
	assert.Equal(t, 10*time.Second, cfg.Sandbox.Timeout(), "empty overrides keep loaded values")

	require.NoError(t, Overrides{Timeout: "1m30s", ReportDir: "/from/flag"}.Apply(cfg))
	assert.Equal(t, 90*time.Second, cfg.Sandbox.Timeout())
	assert.Equal(t, "/from/flag", cfg.Report.Dir)

	for _, timeout := range []string{"soon", "86401"} {
		err := Overrides{Timeout: timeout}.Apply(cfg)
		require.Error(t, err, timeout)
		assert.True(t, boxerrors.Classify(err, boxerrors.KindBadEnvVar), timeout)
	}
}
