package vboxmanage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	shellquote "github.com/kballard/go-shellquote"

	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
)

// marker delimits one guest command's output from the next on a shared
// interactive channel, carrying the command's exit code after it.
const marker = "__vboxmanage_guestexec_done__"

// GuestChannel is a long-lived "VBoxManage guestcontrol run" session: a
// guest /bin/sh kept resident and driven over a pty, so line-buffered guest
// output streams back instead of arriving as one block-buffered read once
// the whole session exits. The connection pool keeps one of these per VM
// and reuses it across guest_exec calls.
type GuestChannel struct {
	cmd *exec.Cmd
	tty *os.File
	mu  sync.Mutex
	r   *bufio.Reader
}

// OpenGuestChannel starts a guest shell session for idOrName, authenticating
// with username/password if the guest additions require it.
func (a *Adapter) OpenGuestChannel(ctx context.Context, idOrName, username, password string) (*GuestChannel, error) {
	args := []string{"guestcontrol", idOrName, "run", "--exe", "/bin/sh"}
	if username != "" {
		args = append(args, "--username", username)
		if password != "" {
			args = append(args, "--password", password)
		}
	}
	args = append(args, "--", "/bin/sh")

	cmd := exec.CommandContext(ctx, a.binary, args...)
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, &AdapterError{Kind: toolregistry.KindHostError, Op: "guest_exec.open", Message: err.Error()}
	}
	return &GuestChannel{cmd: cmd, tty: f, r: bufio.NewReader(f)}, nil
}

// Close terminates the guest shell and releases the pty.
func (g *GuestChannel) Close() error {
	_ = g.tty.Close()
	if g.cmd.Process != nil {
		_ = g.cmd.Process.Kill()
	}
	_ = g.cmd.Wait()
	return nil
}

// Run sends one command to the guest shell and waits for it to finish,
// returning its combined output and exit code. command is a program and its
// arguments, quoted for the guest shell with shellquote.
func (g *GuestChannel) Run(command []string, timeout time.Duration) (output string, exitCode int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	line := shellquote.Join(command...)
	if _, werr := fmt.Fprintf(g.tty, "%s; echo %s $?\n", line, marker); werr != nil {
		return "", -1, &AdapterError{Kind: toolregistry.KindHostError, Op: "guest_exec.run", Message: werr.Error()}
	}

	deadline := time.Now().Add(timeout)
	var out strings.Builder
	for {
		if timeout > 0 && time.Now().After(deadline) {
			return out.String(), -1, &AdapterError{Kind: toolregistry.KindTimeout, Op: "guest_exec.run", Message: "guest command timed out"}
		}
		raw, rerr := g.r.ReadString('\n')
		if raw != "" {
			text := strings.TrimRight(raw, "\r\n")
			if idx := strings.Index(text, marker); idx >= 0 {
				code, _ := strconv.Atoi(strings.TrimSpace(text[idx+len(marker):]))
				return out.String(), code, nil
			}
			out.WriteString(text)
			out.WriteByte('\n')
		}
		if rerr != nil {
			return out.String(), -1, &AdapterError{Kind: toolregistry.KindHostError, Op: "guest_exec.run", Message: rerr.Error()}
		}
	}
}
