package commands

import (
	"github.com/spf13/cobra"

	"github.com/tomhayes/dispatchd/internal/config"
	"github.com/tomhayes/dispatchd/internal/ipc"
)

type loadStatus struct {
	cfg config.Config
}

// LoadStatus replaces the running daemon's state with a previously saved
// status document (spec §6 "load_status <file>").
func LoadStatus() *cobra.Command {
	var l loadStatus

	cmd := cobra.Command{
		Use:   "load_status <file>",
		Short: "Replace the dispatcher's state from a saved status document",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return l.run(args[0])
		},
	}

	l.cfg.Flags(&cmd)

	return &cmd
}

func (l *loadStatus) run(file string) error {
	var r reply
	cmd := ipc.Command{Type: ipc.TypeLoadStatus, File: file}
	if err := send(l.cfg.DataDir, cmd, &r); err != nil {
		return err
	}
	return r.print()
}
