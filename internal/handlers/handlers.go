// Package handlers implements the Command Handlers component: it validates
// and translates control-channel commands into State Store operations and
// shapes the result into a wire response (spec §4.5).
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tomhayes/dispatchd/internal/ipc"
	"github.com/tomhayes/dispatchd/internal/store"
)

// Handlers wires a Store to the control channel.
type Handlers struct {
	Store *store.Store
	Log   *slog.Logger
}

// New constructs a Handlers bound to st.
func New(st *store.Store, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{Store: st, Log: log}
}

// Dispatch routes cmd to the matching store operation. The returned value is
// always JSON-marshalable and, on success, already in the {msg: ...} or full
// status-document shape spec §4.4 calls for; callers should never marshal
// the error alongside a success value.
func (h *Handlers) Dispatch(cmd ipc.Command) (any, error) {
	switch cmd.Type {
	case ipc.TypeShutdown:
		return h.shutdown()
	case ipc.TypeAddJob:
		return h.addJob(cmd)
	case ipc.TypeRemoveJob:
		return h.removeJob(cmd)
	case ipc.TypeAddSlave:
		return h.addSlave(cmd)
	case ipc.TypeRemoveSlave:
		return h.removeSlave(cmd)
	case ipc.TypeStatus:
		return h.status()
	case ipc.TypeLoadStatus:
		return h.loadStatus(cmd)
	default:
		return nil, fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

func (h *Handlers) shutdown() (any, error) {
	h.Log.Info("shutting down")
	if err := h.Store.Shutdown(); err != nil {
		return nil, err
	}
	return ipc.MsgResponse{Msg: "Stopped"}, nil
}

func (h *Handlers) addJob(cmd ipc.Command) (any, error) {
	env, err := parseEnvPairs(cmd.Envs, h.Log)
	if err != nil {
		return nil, err
	}

	msg, err := h.Store.AddJob(cmd.Args, env)
	if err != nil {
		return nil, err
	}
	return ipc.MsgResponse{Msg: msg}, nil
}

func (h *Handlers) removeJob(cmd ipc.Command) (any, error) {
	env, err := parseEnvPairs(cmd.Envs, h.Log)
	if err != nil {
		return nil, err
	}

	msg, err := h.Store.RemoveJob(cmd.Args, env)
	if err != nil {
		return nil, err
	}
	return ipc.MsgResponse{Msg: msg}, nil
}

func (h *Handlers) addSlave(cmd ipc.Command) (any, error) {
	env, err := parseEnvPairs(cmd.Envs, h.Log)
	if err != nil {
		return nil, err
	}

	if err := h.Store.AddWorker(cmd.IP, env); err != nil {
		return nil, err
	}
	return ipc.MsgResponse{Msg: "ok"}, nil
}

func (h *Handlers) removeSlave(cmd ipc.Command) (any, error) {
	if err := h.Store.RemoveWorker(cmd.IP, cmd.Options.Wait, cmd.Options.Kill); err != nil {
		return nil, err
	}
	return ipc.MsgResponse{Msg: "ok"}, nil
}

func (h *Handlers) status() (any, error) {
	return h.Store.Status(), nil
}

func (h *Handlers) loadStatus(cmd ipc.Command) (any, error) {
	data, err := os.ReadFile(cmd.File)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cmd.File, err)
	}

	var doc store.StatusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", cmd.File, err)
	}

	if err := h.Store.LoadStatus(doc); err != nil {
		return nil, err
	}
	return ipc.MsgResponse{Msg: "ok"}, nil
}

// parseEnvPairs turns a list of "K=V" strings into a map, rejecting
// malformed entries and reserved names (spec §3 invariant 6), and warning
// (last wins) on duplicate keys (spec §7 Validation).
func parseEnvPairs(pairs []string, log *slog.Logger) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed environment pair %q, expected K=V", pair)
		}
		if k == store.EnvJobID || k == store.EnvSlaveIP {
			return nil, store.ReservedEnvError(k)
		}
		if _, dup := env[k]; dup {
			log.Warn("duplicate environment key, last wins", "key", k)
		}
		env[k] = v
	}
	return env, nil
}
