package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomhayes/dispatchd/internal/config"
	"github.com/tomhayes/dispatchd/internal/ipc"
)

type addJob struct {
	cfg  config.Config
	envs []string
}

// AddJob submits a job: a script path, its arguments, and optional
// environment overrides (spec §6 "add_job <script> [args…] [--env K=V …]
// [-- user_args…]").
func AddJob() *cobra.Command {
	var a addJob

	cmd := cobra.Command{
		Use:   "add_job <script> [args...] [-- user_args...]",
		Short: "Submit a job to run on the next idle worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.run(args)
		},
	}

	a.cfg.Flags(&cmd)
	cmd.Flags().StringArrayVar(&a.envs, "env", nil, "environment override in K=V form, may be repeated")

	return &cmd
}

func (a *addJob) run(args []string) error {
	if err := envPairs(a.envs); err != nil {
		return err
	}

	script := args[0]
	if _, err := os.Stat(script); err != nil {
		return fmt.Errorf("%s does not exist", script)
	}
	if !strings.HasPrefix(script, "./") {
		script = "./" + script
	}
	argv := append([]string{script}, args[1:]...)

	var r reply
	cmd := ipc.Command{Type: ipc.TypeAddJob, Args: argv, Envs: a.envs}
	if err := send(a.cfg.DataDir, cmd, &r); err != nil {
		return err
	}
	return r.print()
}
