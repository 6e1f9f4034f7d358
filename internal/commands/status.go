package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomhayes/dispatchd/internal/config"
	"github.com/tomhayes/dispatchd/internal/ipc"
	"github.com/tomhayes/dispatchd/internal/store"
)

type status struct {
	cfg config.Config
}

// Status prints the daemon's full waitlist and worker state as pretty JSON
// (spec §6 "status — pretty-printed JSON of waitlist and workers").
func Status() *cobra.Command {
	var s status
	cmd := cobra.Command{
		Use:   "status",
		Short: "Print the dispatcher's waitlist and worker status",
		RunE: func(_ *cobra.Command, _ []string) error {
			return s.run()
		},
	}

	s.cfg.Flags(&cmd)

	return &cmd
}

func (s *status) run() error {
	var doc store.StatusDocument
	if err := send(s.cfg.DataDir, ipc.Command{Type: ipc.TypeStatus}, &doc); err != nil {
		return err
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
