// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockOutput takes an exclusive lock on the output path, so that two runs
// writing the same artifact do not interleave. The lock file lives in the
// temporary directory, keyed by the absolute output path, and is never
// removed; removing it would let a waiting run and a new one lock different
// files.
func lockOutput(path string) (*flock.Flock, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(abs))
	lock := flock.New(filepath.Join(os.TempDir(), "indy-"+hex.EncodeToString(sum[:8])+".lock"))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		start := time.Now()
		log.Printf("waiting for another run writing %s", path)
		if err := lock.Lock(); err != nil {
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		log.Printf("lock on %s acquired after %s", path, debugSince(start))
	}
	return lock, nil
}
