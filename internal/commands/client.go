package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomhayes/dispatchd/internal/ipc"
)

// requireRunningDaemon returns the path to the control FIFO, failing with a
// non-zero exit (spec §6 exit codes: "missing commands_fifo") if no daemon
// appears to be listening.
func requireRunningDaemon(dataDir string) (string, error) {
	path := filepath.Join(dataDir, ipc.CommandsFIFOName)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s does not exist; try starting a daemon with `dispatchd start`", path)
	}
	return path, nil
}

// send is the thin-client half of the protocol shared by every command
// that talks to a running daemon: it requires the control fifo to exist,
// communicates cmd, and decodes the reply into out.
func send(dataDir string, cmd ipc.Command, out any) error {
	commandsPath, err := requireRunningDaemon(dataDir)
	if err != nil {
		return err
	}
	return ipc.Communicate(dataDir, commandsPath, cmd, out)
}

// reply is the generic {msg}/{err} response shape most commands expect.
type reply struct {
	Msg string `json:"msg"`
	Err string `json:"err"`
}

func (r reply) print() error {
	if r.Err != "" {
		return fmt.Errorf("%s", r.Err)
	}
	fmt.Println(r.Msg)
	return nil
}

// envPairs validates a list of "K=V" strings has the right shape before
// ever reaching the wire; the daemon re-validates (spec §7: client-side
// checks are PreconditionFailure, server-side are Validation), but failing
// fast here avoids a round trip for an obviously malformed flag.
func envPairs(pairs []string) error {
	for _, p := range pairs {
		if !containsEquals(p) {
			return fmt.Errorf("malformed --env value %q, expected K=V", p)
		}
	}
	return nil
}

func containsEquals(s string) bool {
	for _, r := range s {
		if r == '=' {
			return true
		}
	}
	return false
}
