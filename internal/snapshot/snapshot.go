// Package snapshot implements the State Store's durable representation:
// a self-describing, versioned JSON document (spec §9 "Object
// serialization" — replacing the legacy implementation's pickled tuple,
// which carries no schema version and is unsafe to parse).
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomhayes/dispatchd/internal/worker"
)

// Version is the current snapshot schema version. Bump this and add a
// migration branch in Decode if the on-disk shape ever changes again.
const Version = 1

// Document is the top-level durable snapshot: the full set of registered
// workers and the FIFO waitlist of unassigned jobs (spec §3 "State
// Snapshot").
type Document struct {
	Version  int                 `json:"version"`
	Workers  []*worker.Worker    `json:"workers"`
	Waitlist []worker.JobRequest `json:"waitlist"`
}

// Encode marshals workers and waitlist into a Document ready to write.
func Encode(workers []*worker.Worker, waitlist []worker.JobRequest) *Document {
	return &Document{
		Version:  Version,
		Workers:  workers,
		Waitlist: waitlist,
	}
}

// Decode parses a Document from raw bytes. Older, 3-field worker records
// (no remove_after_finish) decode cleanly because Go's JSON unmarshaling
// leaves missing bool fields at their zero value (false), which satisfies
// spec §4.1's legacy-compatibility requirement without an explicit
// migration branch.
func Decode(data []byte) (*Document, error) {
	if len(data) == 0 {
		return &Document{Version: Version}, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("snapshot: decoding: %w", err)
	}

	if doc.Version == 0 {
		// A version-0 document predates the version field entirely; treat it
		// as the current schema, since the field shapes haven't otherwise
		// changed since this rewrite's schema was introduced.
		doc.Version = Version
	}

	return &doc, nil
}

// WriteAtomic encodes doc and writes it to path, replacing any existing
// file only once the new contents are fully durable on disk. This is what
// spec invariant 5 means by "the durable snapshot on disk equals the
// in-memory state after any committed mutation": a reader never observes a
// half-written file.
func WriteAtomic(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: renaming temp file: %w", err)
	}

	return nil
}

// Load reads and decodes the snapshot at path. A missing file is not an
// error: it means this is the first run against a fresh data directory.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{Version: Version}, nil
		}
		return nil, fmt.Errorf("snapshot: reading %s: %w", path, err)
	}
	return Decode(data)
}
