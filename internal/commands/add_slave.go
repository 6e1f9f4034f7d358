package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomhayes/dispatchd/internal/config"
	"github.com/tomhayes/dispatchd/internal/ipc"
)

type addSlave struct {
	cfg              config.Config
	envs             []string
	skipSSHAuthCheck bool
}

// AddSlave registers one or more workers (spec §6 "add_slave <ip…> [--env
// K=V …] [--skip_ssh_auth_check]"). --skip_ssh_auth_check is accepted for
// CLI compatibility; the client-side SSH reachability probe it controls is
// a non-goal (spec §1), so it has no effect on the command sent to the
// daemon.
func AddSlave() *cobra.Command {
	var a addSlave

	cmd := cobra.Command{
		Use:   "add_slave <ip> [ip...]",
		Short: "Register one or more workers with the dispatcher",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.run(args)
		},
	}

	a.cfg.Flags(&cmd)
	cmd.Flags().StringArrayVar(&a.envs, "env", nil, "environment default for this worker, may be repeated")
	cmd.Flags().BoolVar(&a.skipSSHAuthCheck, "skip_ssh_auth_check", false, "skip the client-side SSH reachability probe")

	return &cmd
}

func (a *addSlave) run(ips []string) error {
	if err := envPairs(a.envs); err != nil {
		return err
	}

	for _, ip := range ips {
		var r reply
		cmd := ipc.Command{Type: ipc.TypeAddSlave, IP: ip, Envs: a.envs}
		if err := send(a.cfg.DataDir, cmd, &r); err != nil {
			return fmt.Errorf("%s: %w", ip, err)
		}
		if err := r.print(); err != nil {
			return fmt.Errorf("%s: %w", ip, err)
		}
	}
	return nil
}
