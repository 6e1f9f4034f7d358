package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// CommandsFIFOName is the control FIFO's file name, rooted at the data
// directory (spec §6 filesystem layout).
const CommandsFIFOName = "commands_fifo"

// ReplyPrefix is the prefix every per-request reply FIFO's name carries
// (spec §6: "tmp_{timestamp_ms}").
const ReplyPrefix = "tmp_"

// EnsureFIFO creates a named pipe at path if nothing exists there yet.
func EnsureFIFO(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("ipc: stat %s: %w", path, err)
	}
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return fmt.Errorf("ipc: mkfifo %s: %w", path, err)
	}
	return nil
}

// ReadCommand opens the control FIFO for reading, blocking until a client
// opens it for writing, and decodes exactly one JSON command from whatever
// that client writes before closing its end (spec §9 "one-JSON-per-open-
// and-close" framing).
func ReadCommand(path string) (Command, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return Command{}, fmt.Errorf("ipc: opening %s: %w", path, err)
	}
	defer f.Close()

	var cmd Command
	if err := json.NewDecoder(f).Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("ipc: decoding command: %w", err)
	}
	return cmd, nil
}

// WriteResponse opens the reply FIFO at path for writing and writes one
// newline-terminated JSON response, then removes the FIFO.
func WriteResponse(path string, resp any) error {
	defer os.Remove(path)

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("ipc: opening reply pipe %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	return enc.Encode(resp)
}

// NewReplyFIFO creates a fresh, uniquely-named reply FIFO in dataDir and
// returns its path.
func NewReplyFIFO(dataDir string) (string, error) {
	path := filepath.Join(dataDir, fmt.Sprintf("%s%d", ReplyPrefix, time.Now().UnixMilli()))
	_ = os.Remove(path)
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return "", fmt.Errorf("ipc: creating reply pipe %s: %w", path, err)
	}
	return path, nil
}

// Communicate is the CLI client's half of the protocol: it creates a reply
// FIFO, stamps cmd.Pipe with its path, writes cmd to the control FIFO, then
// blocks reading exactly one JSON response from the reply FIFO. The
// response is decoded into out, which should be a pointer.
func Communicate(dataDir, commandsFIFOPath string, cmd Command, out any) error {
	replyPath, err := NewReplyFIFO(dataDir)
	if err != nil {
		return err
	}
	cmd.Pipe = replyPath

	if err := writeCommand(commandsFIFOPath, cmd); err != nil {
		os.Remove(replyPath)
		return err
	}

	f, err := os.OpenFile(replyPath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("ipc: opening reply pipe %s: %w", replyPath, err)
	}
	defer func() {
		f.Close()
		os.Remove(replyPath)
	}()

	return json.NewDecoder(f).Decode(out)
}

func writeCommand(commandsFIFOPath string, cmd Command) error {
	f, err := os.OpenFile(commandsFIFOPath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("ipc: opening control pipe %s: %w", commandsFIFOPath, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	return enc.Encode(cmd)
}

// SweepStaleReplies removes any tmp_* reply FIFOs left behind by clients
// that crashed before reading their response (SPEC_FULL §6 "Reply FIFO
// garbage collection"). It removes every tmp_* entry in dataDir, without
// checking whether a client is still waiting on it.
func SweepStaleReplies(dataDir string) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return fmt.Errorf("ipc: reading %s: %w", dataDir, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ReplyPrefix) {
			_ = os.Remove(filepath.Join(dataDir, e.Name()))
		}
	}
	return nil
}
