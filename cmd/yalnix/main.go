// cmd/yalnix is the command-line interface to yalnix, an educational operating system kernel
// running on a simulated RISC machine.
package main

import (
	"context"
	"os"

	"github.com/smoynes/yalnix/internal/cli"
	"github.com/smoynes/yalnix/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Boot(),
	cmd.Run(),
}

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
