package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Load reads a History document from path. A missing file is reported
// as os.IsNotExist-compatible so Phase A (spec.md §4.8) can distinguish
// "initialise a new history" from a genuine read failure.
func Load(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "ledger: reading history file %s", path)
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.Wrapf(err, "ledger: malformed history file %s", path)
	}
	return &h, nil
}

// Save writes h to path with whole-file-overwrite, atomic-replace
// semantics, spec.md §5: serialise to a temp file in the same directory
// then rename over the destination. This is deliberately the only
// persistence primitive this module owns — spec.md §1 places the actual
// file-persistence *layer* (locking, retries, alternate backends) with
// the out-of-scope CLI/file collaborator; this is just the one atomic
// write operation the Reconciler needs to be crash-safe between phases.
func Save(path string, h *History) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return errors.Wrap(err, "ledger: marshalling history")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return errors.Wrapf(err, "ledger: creating temp file in %s", dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "ledger: writing temp history file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "ledger: closing temp history file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "ledger: renaming temp file to %s", path)
	}
	return nil
}
