package commands

import (
	"github.com/spf13/cobra"

	"github.com/tomhayes/dispatchd/internal/config"
	"github.com/tomhayes/dispatchd/internal/ipc"
)

type stop struct {
	cfg config.Config
}

// Stop sends a shutdown command to the running daemon (spec §6 "stop —
// send shutdown").
func Stop() *cobra.Command {
	var s stop
	cmd := cobra.Command{
		Use:   "stop",
		Short: "Stop the running job dispatcher daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			return s.run()
		},
	}

	s.cfg.Flags(&cmd)

	return &cmd
}

func (s *stop) run() error {
	var r reply
	if err := send(s.cfg.DataDir, ipc.Command{Type: ipc.TypeShutdown}, &r); err != nil {
		return err
	}
	return r.print()
}
