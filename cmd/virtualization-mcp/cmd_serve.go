package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sandraschi/virtualization-mcp/internal/backupstore"
	"github.com/sandraschi/virtualization-mcp/internal/config"
	"github.com/sandraschi/virtualization-mcp/internal/connpool"
	"github.com/sandraschi/virtualization-mcp/internal/errx"
	"github.com/sandraschi/virtualization-mcp/internal/handlers"
	"github.com/sandraschi/virtualization-mcp/internal/hostnet"
	"github.com/sandraschi/virtualization-mcp/internal/jobengine"
	"github.com/sandraschi/virtualization-mcp/internal/lockregistry"
	"github.com/sandraschi/virtualization-mcp/internal/logging"
	"github.com/sandraschi/virtualization-mcp/internal/mcpserver"
	"github.com/sandraschi/virtualization-mcp/internal/session"
	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
	"github.com/sandraschi/virtualization-mcp/internal/vboxmanage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP tool server over stdio",
	RunE:  runServe,
}

func init() {
	registerConfigFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

// registerConfigFlags declares every flag config.BindFlags knows how to
// bind, the same per-flag cobra declaration the teacher uses per subcommand.
func registerConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("vboxmanage-path", "", "Explicit path to the VBoxManage binary")
	cmd.Flags().Int("max-parallel-vboxmanage", 0, "Maximum concurrent VBoxManage subprocesses")
	cmd.Flags().Duration("session-ttl", 0, "Session idle lifetime")
	cmd.Flags().Duration("session-cleanup-interval", 0, "Session sweep cadence")
	cmd.Flags().Int("pool-max-size", 0, "Maximum pooled guest connections")
	cmd.Flags().Duration("connection-idle-ttl", 0, "Idle guest connection lifetime")
	cmd.Flags().Int("connection-max-usage", 0, "Uses before a pooled guest connection recycles")
	cmd.Flags().Duration("pool-cleanup-interval", 0, "Connection pool sweep cadence")
	cmd.Flags().Duration("job-result-ttl", 0, "Terminal job-result retention")
	cmd.Flags().Duration("graceful-stop-timeout", 0, "controlvm acpipowerbutton grace period; the stop reports a timeout if the VM is still running after it")
	cmd.Flags().Duration("default-operation-timeout", 0, "Default per-call VBoxManage timeout")
	cmd.Flags().Duration("long-operation-timeout", 0, "Timeout for long-running operations (export, clone, guest exec)")
	cmd.Flags().Duration("shutdown-timeout", 0, "Grace period for draining in-flight calls on SIGTERM")
	cmd.Flags().String("log-level", "", "slog level: debug, info, warn, error")
	cmd.Flags().String("log-file", "", "JSONL event log path (disabled if empty)")
	cmd.Flags().String("state-dir", "", "Directory holding job and backup state databases")
	cmd.Flags().String("guest-username", "", "Guest OS username for pooled guestcontrol shells")
	cmd.Flags().String("guest-password", "", "Guest OS password for pooled guestcontrol shells")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errx.Wrap(ErrLoadConfig, err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(log)

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return errx.Wrap(ErrCreateStateDir, err)
	}

	adapter, err := vboxmanage.New(vboxmanage.Config{
		ExplicitPath:   cfg.VBoxManagePath,
		MaxParallel:    cfg.MaxParallelVBoxManage,
		DefaultTimeout: cfg.DefaultOperationTimeout,
		LongTimeout:    cfg.LongOperationTimeout,
	})
	if err != nil {
		return errx.Wrap(ErrLocateVBoxManage, err)
	}

	locks := lockregistry.New()

	guests := connpool.New(connpool.Config{
		MaxSize:         cfg.ConnectionPoolMaxSize,
		IdleTTL:         cfg.ConnectionIdleTTL,
		MaxUsage:        cfg.ConnectionMaxUsage,
		CleanupInterval: cfg.ConnectionCleanupInterval,
	}, handlers.NewGuestPoolFactory(adapter, cfg.GuestUsername, cfg.GuestPassword))
	defer guests.Shutdown()

	sessions := session.New(session.Config{TTL: cfg.SessionTTL, CleanupInterval: cfg.SessionCleanupInterval})
	defer sessions.Shutdown()

	jobs, err := jobengine.New(jobengine.Config{
		ResultTTL:      cfg.JobResultTTL,
		DefaultTimeout: cfg.LongOperationTimeout,
		StorePath:      filepath.Join(cfg.StateDir, "jobs.db"),
	})
	if err != nil {
		return errx.Wrap(ErrOpenJobStore, err)
	}
	defer jobs.Shutdown()

	backups, err := backupstore.Open(filepath.Join(cfg.StateDir, "backups"))
	if err != nil {
		return errx.Wrap(ErrOpenBackupStore, err)
	}
	defer backups.Close()

	reg := toolregistry.NewRegistry(log)
	if cfg.LogFile != "" {
		writer, err := logging.NewJSONLWriter(cfg.LogFile)
		if err != nil {
			return errx.Wrap(ErrOpenLogFile, err)
		}
		defer writer.Close()
		reg.WithEmitter(logging.NewEmitter(logging.EmitterConfig{RunID: sessionRunID()}, writer))
	}

	handlers.Register(reg, handlers.Deps{
		Adapter:             adapter,
		Locks:               locks,
		Jobs:                jobs,
		Sessions:            sessions,
		Backups:             backups,
		Guests:              guests,
		Subnets:             hostnet.NewSubnetAllocator(cfg.StateDir),
		LockTimeout:         cfg.DefaultOperationTimeout,
		GracefulStopTimeout: cfg.GracefulStopTimeout,
		LongOpTimeout:       cfg.LongOperationTimeout,
	})

	ctx, cancel := contextWithSignal(context.Background())
	defer cancel()

	front := mcpserver.New(reg, os.Stdin, os.Stdout)
	log.Info("virtualization-mcp serving", "tools", reg.Names(), "state_dir", cfg.StateDir)

	if err := front.Run(ctx); err != nil {
		return errx.Wrap(ErrFrontend, err)
	}
	return nil
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// sessionRunID identifies this process instance in emitted events. Process
// identity is stable for the process's whole lifetime, so pid is sufficient
// without reaching for a random generator at startup.
func sessionRunID() string {
	return fmt.Sprintf("pid-%d", os.Getpid())
}
