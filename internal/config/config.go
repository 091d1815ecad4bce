// Package config binds the recognized configuration table to flags and
// environment variables via viper, the way the teacher's cobra commands
// bind their flags with viper.BindPFlag. No config file is read.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the fully-resolved, typed configuration for one server process.
type Config struct {
	VBoxManagePath       string
	MaxParallelVBoxManage int

	SessionTTL              time.Duration
	SessionCleanupInterval  time.Duration

	ConnectionPoolMaxSize    int
	ConnectionIdleTTL        time.Duration
	ConnectionMaxUsage       int
	ConnectionCleanupInterval time.Duration

	JobResultTTL time.Duration

	GracefulStopTimeout        time.Duration
	DefaultOperationTimeout    time.Duration
	LongOperationTimeout       time.Duration
	ShutdownTimeout            time.Duration

	LogLevel string
	LogFile  string

	// StateDir holds the job-result and backup-index sqlite databases,
	// mirroring the teacher's ~/.cache/matchlock convention.
	StateDir string

	// GuestUsername/GuestPassword authenticate the persistent guestcontrol
	// shell channels the connection pool opens; empty means VBoxManage's
	// own credential resolution (host-configured guest additions auth) applies.
	GuestUsername string
	GuestPassword string
}

// keys are the viper key names for every recognized option (spec §6 table).
const (
	keyVBoxManagePath              = "vboxmanage_path"
	keyMaxParallelVBoxManage       = "max_parallel_vboxmanage"
	keySessionTTL                  = "session_ttl_seconds"
	keySessionCleanupInterval      = "session_cleanup_interval_seconds"
	keyConnectionPoolMaxSize       = "connection_pool_max_size"
	keyConnectionIdleTTL           = "connection_idle_ttl_seconds"
	keyConnectionMaxUsage          = "connection_max_usage"
	keyConnectionCleanupInterval   = "connection_pool_cleanup_interval_seconds"
	keyJobResultTTL                = "job_result_ttl_seconds"
	keyGracefulStopTimeout         = "graceful_stop_timeout_seconds"
	keyDefaultOperationTimeout     = "default_operation_timeout_seconds"
	keyLongOperationTimeout        = "long_operation_timeout_seconds"
	keyShutdownTimeout             = "shutdown_timeout_seconds"
	keyLogLevel                    = "log_level"
	keyLogFile                     = "log_file"
	keyStateDir                    = "state_dir"
	keyGuestUsername               = "guest_username"
	keyGuestPassword               = "guest_password"
)

// SetDefaults installs the documented defaults into v. Called once before
// any flag binding, so flags and env both win over them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(keyVBoxManagePath, "")
	v.SetDefault(keyMaxParallelVBoxManage, 8)
	v.SetDefault(keySessionTTL, 3600)
	v.SetDefault(keySessionCleanupInterval, 300)
	v.SetDefault(keyConnectionPoolMaxSize, 20)
	v.SetDefault(keyConnectionIdleTTL, 300)
	v.SetDefault(keyConnectionMaxUsage, 100)
	v.SetDefault(keyConnectionCleanupInterval, 60)
	v.SetDefault(keyJobResultTTL, 1800)
	v.SetDefault(keyGracefulStopTimeout, 60)
	v.SetDefault(keyDefaultOperationTimeout, 30)
	v.SetDefault(keyLongOperationTimeout, 1800)
	v.SetDefault(keyShutdownTimeout, 30)
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFile, "")
	v.SetDefault(keyStateDir, defaultStateDir())
	v.SetDefault(keyGuestUsername, "")
	v.SetDefault(keyGuestPassword, "")
}

// defaultStateDir mirrors the teacher's ~/.cache/matchlock convention.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".virtualization-mcp"
	}
	return filepath.Join(home, ".cache", "virtualization-mcp")
}

// BindFlags binds the serve command's flags to viper keys, the same
// per-flag BindPFlag pattern the teacher uses in cmd_run.go / cmd_list.go.
func BindFlags(v *viper.Viper, cmd *cobra.Command) error {
	bindings := map[string]string{
		"vboxmanage-path":           keyVBoxManagePath,
		"max-parallel-vboxmanage":   keyMaxParallelVBoxManage,
		"session-ttl":               keySessionTTL,
		"session-cleanup-interval":  keySessionCleanupInterval,
		"pool-max-size":             keyConnectionPoolMaxSize,
		"connection-idle-ttl":       keyConnectionIdleTTL,
		"connection-max-usage":      keyConnectionMaxUsage,
		"pool-cleanup-interval":     keyConnectionCleanupInterval,
		"job-result-ttl":            keyJobResultTTL,
		"graceful-stop-timeout":     keyGracefulStopTimeout,
		"default-operation-timeout": keyDefaultOperationTimeout,
		"long-operation-timeout":    keyLongOperationTimeout,
		"shutdown-timeout":          keyShutdownTimeout,
		"log-level":                 keyLogLevel,
		"log-file":                  keyLogFile,
		"state-dir":                 keyStateDir,
		"guest-username":            keyGuestUsername,
		"guest-password":            keyGuestPassword,
	}
	for flag, key := range bindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// BindEnv wires the fallback environment variables named in spec §6; these
// are honored only when the flag value is unset.
func BindEnv(v *viper.Viper) error {
	if err := v.BindEnv(keyVBoxManagePath, "VBOXMANAGE_PATH"); err != nil {
		return err
	}
	if err := v.BindEnv("vbox_user_home", "VBOX_USER_HOME"); err != nil {
		return err
	}
	if err := v.BindEnv(keyGuestUsername, "VIRTUALIZATION_MCP_GUEST_USERNAME"); err != nil {
		return err
	}
	return v.BindEnv(keyGuestPassword, "VIRTUALIZATION_MCP_GUEST_PASSWORD")
}

// Load reads every bound key out of v into a typed Config.
func Load(v *viper.Viper) *Config {
	sec := func(key string) time.Duration { return time.Duration(v.GetInt(key)) * time.Second }
	return &Config{
		VBoxManagePath:            v.GetString(keyVBoxManagePath),
		MaxParallelVBoxManage:     v.GetInt(keyMaxParallelVBoxManage),
		SessionTTL:                sec(keySessionTTL),
		SessionCleanupInterval:    sec(keySessionCleanupInterval),
		ConnectionPoolMaxSize:     v.GetInt(keyConnectionPoolMaxSize),
		ConnectionIdleTTL:         sec(keyConnectionIdleTTL),
		ConnectionMaxUsage:        v.GetInt(keyConnectionMaxUsage),
		ConnectionCleanupInterval: sec(keyConnectionCleanupInterval),
		JobResultTTL:              sec(keyJobResultTTL),
		GracefulStopTimeout:       sec(keyGracefulStopTimeout),
		DefaultOperationTimeout:   sec(keyDefaultOperationTimeout),
		LongOperationTimeout:      sec(keyLongOperationTimeout),
		ShutdownTimeout:           sec(keyShutdownTimeout),
		LogLevel:                  v.GetString(keyLogLevel),
		LogFile:                   v.GetString(keyLogFile),
		StateDir:                  v.GetString(keyStateDir),
		GuestUsername:             v.GetString(keyGuestUsername),
		GuestPassword:             v.GetString(keyGuestPassword),
	}
}
