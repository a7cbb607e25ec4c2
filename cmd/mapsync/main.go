// Command mapsync runs the cross-provider viewport synchronization service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/mapsync/internal/interfaces/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
