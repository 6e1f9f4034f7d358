package main

import (
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/tomhayes/dispatchd/internal/commands"
)

func main() {
	if err := run(); err != nil {
		if code, ok := exitCode(err); ok {
			os.Exit(code)
		}

		os.Exit(1)
	}
}

func run() error {
	root := cobra.Command{
		Use:   "dispatchd",
		Short: "A distributed job dispatcher: queue jobs, run them on registered workers",

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(commands.Start())
	root.AddCommand(commands.Stop())
	root.AddCommand(commands.Status())
	root.AddCommand(commands.AddJob())
	root.AddCommand(commands.RemoveJob())
	root.AddCommand(commands.AddSlave())
	root.AddCommand(commands.RemoveSlave())
	root.AddCommand(commands.LoadStatus())

	ctx := context.Background()

	cmd, err := root.ExecuteContextC(ctx)
	if _, ok := exitCode(err); ok {
		return err
	}

	if err != nil {
		root.Println(cmd.UsageString())
		root.PrintErrln(root.ErrPrefix(), err.Error())
	}

	return err
}

func exitCode(err error) (int, bool) {
	var eerr *exec.ExitError
	if errors.As(err, &eerr) {
		return eerr.ExitCode(), true
	}
	return 0, false
}
