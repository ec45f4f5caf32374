// Command pivot is a Layer-4 network pivoting toolkit for authorized
// network assessments: TCP/UDP forwarding, a SOCKS5 proxy with reverse
// rendezvous, and SO_REUSEPORT-based traffic interception.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zwxxb/pivot/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := cli.Root(cancel)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
