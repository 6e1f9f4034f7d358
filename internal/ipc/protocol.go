// Package ipc implements the control channel's wire protocol and named-pipe
// framing (spec §4.4): one newline-terminated JSON object per FIFO
// open-write-close cycle, in both directions.
package ipc

// Command is a single control-channel request (spec §4.4 "Recognized
// types and their payloads").
type Command struct {
	Type string `json:"type"`

	// add_job / remove_job
	Args []string `json:"args,omitempty"`
	Envs []string `json:"envs,omitempty"`

	// add_slave / remove_slave
	IP      string  `json:"ip,omitempty"`
	Options Options `json:"options,omitempty"`

	// load_status
	File string `json:"file,omitempty"`

	// Pipe names the per-request reply FIFO the server writes exactly one
	// response to, if present.
	Pipe string `json:"pipe,omitempty"`
}

// Options carries the remove_slave flags.
type Options struct {
	Wait bool `json:"wait,omitempty"`
	Kill bool `json:"kill,omitempty"`
}

// Command type names, spec §4.4.
const (
	TypeShutdown    = "shutdown"
	TypeAddJob      = "add_job"
	TypeRemoveJob   = "remove_job"
	TypeAddSlave    = "add_slave"
	TypeRemoveSlave = "remove_slave"
	TypeStatus      = "status"
	TypeLoadStatus  = "load_status"
)

// MsgResponse is the success shape most handlers reply with.
type MsgResponse struct {
	Msg string `json:"msg"`
}

// ErrResponse is the failure shape every handler reply can take (spec §7:
// "Handler exceptions are caught and reported as {err} without terminating
// the server").
type ErrResponse struct {
	Err string `json:"err"`
}
