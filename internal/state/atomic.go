package state

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// ErrCorrupt marks persisted state that exists but cannot be parsed.
var ErrCorrupt = errors.New("persisted state is corrupt")

const stateFileMode = 0o640

// writeFileAtomic replaces path with data via a temp file in the same
// directory and a rename, so readers never observe a partial write.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, stateFileMode)
}
