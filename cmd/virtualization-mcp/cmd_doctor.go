package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sandraschi/virtualization-mcp/internal/errx"
	"github.com/sandraschi/virtualization-mcp/internal/vboxmanage"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that VBoxManage is reachable and report host capacity",
	RunE:  runDoctor,
}

func init() {
	registerConfigFlags(doctorCmd)
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errx.Wrap(ErrLoadConfig, err)
	}

	adapter, err := vboxmanage.New(vboxmanage.Config{
		ExplicitPath:   cfg.VBoxManagePath,
		MaxParallel:    1,
		DefaultTimeout: cfg.DefaultOperationTimeout,
	})
	if err != nil {
		return errx.Wrap(ErrLocateVBoxManage, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	version, err := adapter.VBoxVersion(ctx)
	if err != nil {
		return errx.Wrap(ErrVBoxManageUnreachable, err)
	}
	fmt.Printf("VBoxManage: OK (version %s)\n", version)

	host, err := adapter.HostInfo(ctx)
	if err != nil {
		return errx.Wrap(ErrVBoxManageUnreachable, err)
	}
	fmt.Printf("Host: %s on %s, %d logical CPUs, %d MB memory\n", host.VBoxVersion, host.OS, host.CPUCount, host.MemoryMB)

	vms, err := adapter.ListVMs(ctx)
	if err != nil {
		return errx.Wrap(ErrVBoxManageUnreachable, err)
	}
	fmt.Printf("Registered VMs: %d\n", len(vms))
	fmt.Printf("State directory: %s\n", cfg.StateDir)
	if len(vms) > 0 {
		printVMTable(vms)
	}
	return nil
}

// printVMTable renders registered VM names, padded to the terminal width
// when stdout is a TTY so columns don't wrap mid-name in a narrow pane;
// falls back to one name per line when piped.
func printVMTable(vms []struct{ Name, UUID string }) {
	width := 0
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			width = w
		}
	}
	if width <= 0 {
		for _, vm := range vms {
			fmt.Printf("  - %s\n", vm.Name)
		}
		return
	}

	col := 0
	var line strings.Builder
	for _, vm := range vms {
		entry := fmt.Sprintf("%-24s", vm.Name)
		if col+len(entry) > width && col > 0 {
			fmt.Println(strings.TrimRight(line.String(), " "))
			line.Reset()
			col = 0
		}
		line.WriteString(entry)
		col += len(entry)
	}
	if col > 0 {
		fmt.Println(strings.TrimRight(line.String(), " "))
	}
}
