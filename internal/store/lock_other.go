//go:build !unix

package store

import "os"

// No advisory locking outside unix; a second writer is not detected.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
