package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomhayes/dispatchd/internal/config"
	"github.com/tomhayes/dispatchd/internal/ipc"
)

type removeSlave struct {
	cfg  config.Config
	wait bool
	kill bool
}

// RemoveSlave unregisters a worker (spec §6 "remove_slave <ip> [--wait |
// --kill]"). --wait and --kill are mutually exclusive client-side
// preconditions: passing both fails before any command reaches the daemon.
func RemoveSlave() *cobra.Command {
	var r removeSlave

	cmd := cobra.Command{
		Use:   "remove_slave <ip>",
		Short: "Unregister a worker from the dispatcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return r.run(args[0])
		},
	}

	r.cfg.Flags(&cmd)
	cmd.Flags().BoolVar(&r.wait, "wait", false, "wait for the worker's running job to finish before removing it")
	cmd.Flags().BoolVar(&r.kill, "kill", false, "kill the worker's running job immediately")

	return &cmd
}

func (r *removeSlave) run(ip string) error {
	if r.wait && r.kill {
		return fmt.Errorf("--wait and --kill are mutually exclusive")
	}

	var resp reply
	cmd := ipc.Command{
		Type:    ipc.TypeRemoveSlave,
		IP:      ip,
		Options: ipc.Options{Wait: r.wait, Kill: r.kill},
	}
	if err := send(r.cfg.DataDir, cmd, &resp); err != nil {
		return err
	}
	return resp.print()
}
