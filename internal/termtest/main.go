// Termtest is a testing tool for Unix terminal I/O. Lacking simple PTY support, running this tool
// manually is easier than writing automated tests.
package main

import (
	"context"
	"time"

	"github.com/smoynes/yalnix/internal/kernel"
	"github.com/smoynes/yalnix/internal/log"
	"github.com/smoynes/yalnix/internal/machine"
	"github.com/smoynes/yalnix/internal/tty"
)

var logger = log.DefaultLogger()

func main() {
	ctx := context.Background()

	m := machine.New(256, 1, logger)

	k, err := kernel.Boot(m, kernel.BootConfig{KernelImagePages: 16})
	if err != nil {
		logger.Error(err.Error())
		return
	}

	ctx, console, cancel := tty.ConsoleContext(ctx, k, 0)
	defer cancel()

	if err := context.Cause(ctx); err != nil {
		logger.Debug("cause", "err", err)
	}

	logger.Info("Polling terminal. Type keys, press enter to send a line.")

	_ = console.Writer()

	timeout := time.After(30 * time.Second)

	select {
	case <-timeout:
		return
	case <-ctx.Done():
		if ctx.Err() != nil {
			logger.Error(context.Cause(ctx).Error())
		} else {
			logger.Info("Done")
		}
	}
}
