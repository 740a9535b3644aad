package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// lockFileName guards a target against concurrent sync runs. One run
// at a time per target; a second invocation is rejected.
const lockFileName = ".tunesync.lock"

// acquireLock takes the exclusive run lock at the target root. With
// force, a leftover lock from a crashed run is replaced.
func acquireLock(root string, force bool) (func(), error) {
	path := filepath.Join(root, lockFileName)

	if force {
		os.Remove(path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("target is locked by another sync run (%s); use --force if it is stale", path)
		}
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}

	f.WriteString(strconv.Itoa(os.Getpid()))
	f.Close()

	return func() { os.Remove(path) }, nil
}
