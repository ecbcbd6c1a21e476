package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubeportal/pkg/config"
)

func TestParseBasic(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		verify func(*testing.T, *config.Config)
	}{
		{
			name: "no_args_no_env",
			args: nil,
			verify: func(t *testing.T, conf *config.Config) {
				t.Helper()
				assert.Equal(t, "127.0.0.1", conf.ListenAddr)
				assert.Equal(t, uint(50051), conf.Port)
				assert.Equal(t, "info", conf.LogLevel)
				assert.Equal(t, uint(5), conf.GracePeriodSeconds)
				assert.Equal(t, uint(600), conf.ClientCacheTTLSecs)
				assert.Equal(t, uint(30), conf.PodCacheTTLSecs)
				assert.True(t, conf.WatchConfigFile)
				assert.NotEmpty(t, conf.ConfigFile)
			},
		},
		{
			name: "with_args",
			args: []string{"kubeportald", "--port=3456"},
			verify: func(t *testing.T, conf *config.Config) {
				t.Helper()
				assert.Equal(t, uint(3456), conf.Port)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := config.Parse(tt.args)
			require.NoError(t, err)
			require.NotNil(t, conf)

			tt.verify(t, conf)
		})
	}
}

func TestParseWithEnv(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		env    map[string]string
		verify func(*testing.T, *config.Config)
	}{
		{
			name: "port_from_env",
			args: nil,
			env: map[string]string{
				"KUBEPORTAL_CONFIG_PORT": "1234",
			},
			verify: func(t *testing.T, conf *config.Config) {
				t.Helper()
				assert.Equal(t, uint(1234), conf.Port)
			},
		},
		{
			name: "both_args_and_env_flag_wins",
			args: []string{"kubeportald", "--port=9876"},
			env: map[string]string{
				"KUBEPORTAL_CONFIG_PORT": "1234",
			},
			verify: func(t *testing.T, conf *config.Config) {
				t.Helper()
				assert.NotEqual(t, uint(1234), conf.Port)
				assert.Equal(t, uint(9876), conf.Port)
			},
		},
		{
			name: "log_level_from_env",
			args: nil,
			env: map[string]string{
				"KUBEPORTAL_CONFIG_LOG_LEVEL": "debug",
			},
			verify: func(t *testing.T, conf *config.Config) {
				t.Helper()
				assert.Equal(t, "debug", conf.LogLevel)
			},
		},
		{
			name: "kubeconfig_from_kubeconfig_env",
			args: nil,
			env: map[string]string{
				"KUBECONFIG": "/tmp/test_config.yaml",
			},
			verify: func(t *testing.T, conf *config.Config) {
				t.Helper()
				assert.Equal(t, "/tmp/test_config.yaml", conf.KubeConfigPath)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			conf, err := config.Parse(tt.args)
			require.NoError(t, err)
			require.NotNil(t, conf)

			tt.verify(t, conf)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		errorContains string
	}{
		{
			name:          "invalid_log_level",
			args:          []string{"kubeportald", "--log-level=verbose"},
			errorContains: "log-level",
		},
		{
			name:          "port_zero",
			args:          []string{"kubeportald", "--port=0"},
			errorContains: "port must be between",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := config.Parse(tt.args)
			require.Error(t, err)
			require.Nil(t, conf)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		verify func(*testing.T, *config.Config)
	}{
		{
			name: "watch_config_file_disabled",
			args: []string{"kubeportald", "--watch-config-file=false"},
			verify: func(t *testing.T, conf *config.Config) {
				t.Helper()
				assert.False(t, conf.WatchConfigFile)
			},
		},
		{
			name: "custom_config_file",
			args: []string{"kubeportald", "--config-file=/tmp/forwards.json"},
			verify: func(t *testing.T, conf *config.Config) {
				t.Helper()
				assert.Equal(t, "/tmp/forwards.json", conf.ConfigFile)
			},
		},
		{
			name: "grace_period_override",
			args: []string{"kubeportald", "--grace-period-seconds=10"},
			verify: func(t *testing.T, conf *config.Config) {
				t.Helper()
				assert.Equal(t, uint(10), conf.GracePeriodSeconds)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := config.Parse(tt.args)
			require.NoError(t, err)
			require.NotNil(t, conf)

			tt.verify(t, conf)
		})
	}
}

func TestDefaultAppDataDir(t *testing.T) {
	dir, err := config.DefaultAppDataDir()
	require.NoError(t, err)
	assert.NotEmpty(t, dir)
}

func TestGetDefaultKubeConfigPath(t *testing.T) {
	path := config.GetDefaultKubeConfigPath()
	assert.NotEmpty(t, path)
	assert.True(t, os.IsPathSeparator(path[0]) || len(path) > 0)
}
