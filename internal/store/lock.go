package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// indexLock provides cross-process exclusivity over an index directory
// using github.com/gofrs/flock, so that two upsert callers against the same
// repo_root cannot interleave writes.
type indexLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newIndexLock(indexDir string) *indexLock {
	return &indexLock{
		path:  filepath.Join(indexDir, ".index.lock"),
		flock: flock.New(filepath.Join(indexDir, ".index.lock")),
	}
}

func (l *indexLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create index lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	l.locked = true
	return nil
}

func (l *indexLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	return l.flock.Unlock()
}
