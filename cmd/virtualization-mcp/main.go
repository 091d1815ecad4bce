// Command virtualization-mcp serves a controlled, typed tool API for
// managing Oracle VirtualBox VMs, driven over VBoxManage subprocess calls.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sandraschi/virtualization-mcp/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "virtualization-mcp",
	Short: "Model Context Protocol server for Oracle VirtualBox",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// contextWithSignal returns a context cancelled on SIGINT/SIGTERM, the same
// shutdown-trigger pattern the teacher's matchlock-ui command uses.
func contextWithSignal(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// loadConfig runs the standard SetDefaults -> BindFlags -> BindEnv -> Load
// chain against cmd's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)
	if err := config.BindFlags(v, cmd); err != nil {
		return nil, err
	}
	if err := config.BindEnv(v); err != nil {
		return nil, err
	}
	return config.Load(v), nil
}
