package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeSection struct {
	ProbeTimeout string `mapstructure:"probe_timeout"`
}

type testConfig struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`
	Health        probeSection `mapstructure:"health"`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestServiceConfig_Defaults(t *testing.T) {
	cfg := ServiceConfig{}
	cfg.ApplyDefaults()

	assert.Equal(t, "meshprobe", cfg.Name)
	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestServiceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr string
	}{
		{"missing name", ServiceConfig{Environment: "production"}, "name: is required"},
		{"bad environment", ServiceConfig{Name: "x", Environment: "qa"}, "environment: must be one of: development staging production"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.Logging.ApplyDefaults()
			err := tc.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadConfig_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
name: probe-test
environment: staging
health:
  probe_timeout: 2s
`)
	t.Setenv("HEALTH_PROBE_TIMEOUT", "750ms")

	var cfg testConfig
	require.NoError(t, LoadConfig("probe-test", &cfg, WithConfigFile(path)))

	assert.Equal(t, "probe-test", cfg.Name)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "750ms", cfg.Health.ProbeTimeout)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := writeFile(t, dir, ".env", "MESHPROBE_ENV_FILE_CHECK=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("MESHPROBE_ENV_FILE_CHECK") })

	var cfg map[string]any
	require.NoError(t, LoadConfig("x", &cfg, WithEnvFile(envPath), WithConfigFile(filepath.Join(dir, "none.yml"))))
	assert.Equal(t, "from-dotenv", os.Getenv("MESHPROBE_ENV_FILE_CHECK"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	var cfg testConfig
	err := LoadConfig("x", &cfg,
		WithConfigFile("/nonexistent/path.yml"),
		WithDefaults(map[string]any{"health.probe_timeout": "5s"}),
	)
	require.NoError(t, err)
	assert.Equal(t, "5s", cfg.Health.ProbeTimeout)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yml", "name: [unterminated")
	var cfg testConfig
	assert.Error(t, LoadConfig("x", &cfg, WithConfigFile(path)))
}

func TestLeafKeys(t *testing.T) {
	keys := leafKeys(reflect.TypeOf(&testConfig{}), "")
	assert.Contains(t, keys, "name")
	assert.Contains(t, keys, "environment")
	assert.Contains(t, keys, "logging.level")
	assert.Contains(t, keys, "health.probe_timeout")
	assert.NotContains(t, keys, "serviceconfig")

	assert.Nil(t, leafKeys(reflect.TypeOf(map[string]any{}), ""))
}

func TestLoadConfig_ProcessEnvBeatsDotenv(t *testing.T) {
	dir := t.TempDir()
	envPath := writeFile(t, dir, ".env", "ENVIRONMENT=production\nNAME=from-dotenv\n")
	t.Setenv("NAME", "from-process")
	t.Setenv("ENVIRONMENT", "")
	os.Unsetenv("ENVIRONMENT")

	var cfg testConfig
	require.NoError(t, LoadConfig("x", &cfg, WithEnvFile(envPath), WithConfigFile(filepath.Join(dir, "none.yml"))))
	assert.Equal(t, "from-process", cfg.Name)
	assert.Equal(t, "production", cfg.Environment)
}
