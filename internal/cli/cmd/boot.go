package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/smoynes/yalnix/internal/cli"
	"github.com/smoynes/yalnix/internal/kernel"
	"github.com/smoynes/yalnix/internal/log"
	"github.com/smoynes/yalnix/internal/machine"
)

// Boot is the command that brings up a kernel with no init program, driving its clock until
// the quiet period elapses. It is useful for exercising the scheduler's idle behavior without an
// executable to load.
func Boot() cli.Command {
	return new(boot)
}

type boot struct {
	frames  int
	verbose bool
}

func (boot) Description() string {
	return "boot a kernel and idle"
}

func (b boot) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `
boot [ -frames N | -verbose ]

Boot a kernel with idle and init processes and run its clock for a few seconds.`)

	return err
}

func (b *boot) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)

	fs.IntVar(&b.frames, "frames", 512, "number of physical frames")
	fs.BoolVar(&b.verbose, "verbose", false, "enable debug logging")

	return fs
}

func (b boot) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if b.verbose {
		log.LogLevel.Set(log.Debug)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m := machine.New(b.frames, 1, logger)

	k, err := kernel.Boot(m, kernel.BootConfig{KernelImagePages: 16})
	if err != nil {
		logger.Error("boot failed", "err", err)
		return 2
	}

	logger.Info("kernel booted", "frames", b.frames)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	uctxt := machine.UserContext{}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "boot: ran until timeout")
			return 0
		case <-ticker.C:
			k.DispatchTrap(machine.TrapClock, &uctxt, 0)

			if k.Halted() {
				fmt.Fprintln(out, "boot: system halted")
				return 0
			}
		}
	}
}
