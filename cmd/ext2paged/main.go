// Command ext2paged runs the ext2 external pager daemon: pagein, pageout,
// and unlock services for files and the raw device, backing a simulated
// or real block device.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("ext2paged exiting")
		os.Exit(1)
	}
}
