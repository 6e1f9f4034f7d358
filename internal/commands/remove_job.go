package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomhayes/dispatchd/internal/config"
	"github.com/tomhayes/dispatchd/internal/ipc"
)

type removeJob struct {
	cfg  config.Config
	envs []string
}

// RemoveJob removes the exact (argv, env) match from the waitlist (spec §6
// "remove_job <script> [args…] [--env K=V …]").
func RemoveJob() *cobra.Command {
	var r removeJob

	cmd := cobra.Command{
		Use:   "remove_job <script> [args...]",
		Short: "Remove a queued job from the waitlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return r.run(args)
		},
	}

	r.cfg.Flags(&cmd)
	cmd.Flags().StringArrayVar(&r.envs, "env", nil, "environment override in K=V form, must match the submission exactly")

	return &cmd
}

func (r *removeJob) run(args []string) error {
	if err := envPairs(r.envs); err != nil {
		return err
	}

	script := args[0]
	if !strings.HasPrefix(script, "./") {
		script = "./" + script
	}
	argv := append([]string{script}, args[1:]...)

	var resp reply
	cmd := ipc.Command{Type: ipc.TypeRemoveJob, Args: argv, Envs: r.envs}
	if err := send(r.cfg.DataDir, cmd, &resp); err != nil {
		return err
	}
	return resp.print()
}
