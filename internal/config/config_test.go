package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg := Load(v)
	assert.Equal(t, 8, cfg.MaxParallelVBoxManage)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.SessionCleanupInterval)
	assert.Equal(t, 20, cfg.ConnectionPoolMaxSize)
	assert.Equal(t, 5*time.Minute, cfg.ConnectionIdleTTL)
	assert.Equal(t, 100, cfg.ConnectionMaxUsage)
	assert.Equal(t, time.Minute, cfg.ConnectionCleanupInterval)
	assert.Equal(t, 30*time.Minute, cfg.JobResultTTL)
	assert.Equal(t, time.Minute, cfg.GracefulStopTimeout)
	assert.Equal(t, 30*time.Second, cfg.DefaultOperationTimeout)
	assert.Equal(t, 30*time.Minute, cfg.LongOperationTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "", cfg.LogFile)
	assert.NotEmpty(t, cfg.StateDir)
	assert.Equal(t, "", cfg.GuestUsername)
}

func TestBindEnv_GuestCredentials(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	require.NoError(t, BindEnv(v))

	t.Setenv("VIRTUALIZATION_MCP_GUEST_USERNAME", "vboxuser")
	t.Setenv("VIRTUALIZATION_MCP_GUEST_PASSWORD", "hunter2")
	cfg := Load(v)
	assert.Equal(t, "vboxuser", cfg.GuestUsername)
	assert.Equal(t, "hunter2", cfg.GuestPassword)
}

func TestBindEnv_VBoxManagePath(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	require.NoError(t, BindEnv(v))

	t.Setenv("VBOXMANAGE_PATH", "/opt/VirtualBox/VBoxManage")
	cfg := Load(v)
	assert.Equal(t, "/opt/VirtualBox/VBoxManage", cfg.VBoxManagePath)
}

func TestLoad_Overrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set(keyMaxParallelVBoxManage, 4)
	v.Set(keyLogLevel, "debug")

	cfg := Load(v)
	assert.Equal(t, 4, cfg.MaxParallelVBoxManage)
	assert.Equal(t, "debug", cfg.LogLevel)
}
