package cmd

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/smoynes/yalnix/internal/cli"
	"github.com/smoynes/yalnix/internal/kernel"
	"github.com/smoynes/yalnix/internal/log"
	"github.com/smoynes/yalnix/internal/machine"
	"github.com/smoynes/yalnix/internal/tty"
)

// Run is the command that boots a kernel with a single flat text segment, read verbatim from a
// file, as the init program. Parsing a real executable's on-disk header is out of scope here
// (spec's Non-goals), so the whole file is treated as one R+X text segment starting at R1 address
// zero, with no data segment.
func Run() cli.Command {
	return &run{}
}

type run struct {
	frames  int
	console bool
}

func (run) Description() string {
	return "run a flat program image"
}

func (run) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `run [ -frames N | -console ] file

Boot a kernel with file loaded as init's text segment and run until it exits or halts.`)

	return err
}

func (r *run) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	fs.IntVar(&r.frames, "frames", 512, "number of physical frames")
	fs.BoolVar(&r.console, "console", false, "attach terminal 0 to the real console")

	return fs
}

func (r *run) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if len(args) == 0 {
		fmt.Fprintln(out, "run: missing file argument")
		return 1
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		logger.Error("read failed", "file", args[0], "err", err)
		return 2
	}

	textPages := (len(image) + machine.PageSize - 1) / machine.PageSize

	hdr := &kernel.Header{
		EntryAddr:     0,
		TextStartPage: 0,
		TextPages:     textPages,
		DataStartPage: textPages,
		DataPages:     0,
		TextSize:      int64(len(image)),
	}

	m := machine.New(r.frames, 1, logger)

	k, err := kernel.Boot(m, kernel.BootConfig{
		KernelImagePages: 16,
		InitProgram:      hdr,
		InitText:         bytes.NewReader(image),
		InitData:         bytes.NewReader(nil),
		Argv:             args,
	})
	if err != nil {
		logger.Error("boot failed", "err", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if r.console {
		var consoleCancel context.CancelFunc
		ctx, _, consoleCancel = tty.ConsoleContext(ctx, k, 0)
		defer consoleCancel()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	uctxt := machine.UserContext{}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "run: timed out")
			return 2
		case <-ticker.C:
			k.DispatchTrap(machine.TrapClock, &uctxt, 0)

			if k.Halted() {
				fmt.Fprintln(out, "run: halted")
				return 0
			}
		}
	}
}
