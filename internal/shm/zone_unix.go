//go:build unix && !linux

// internal/shm/zone_unix.go
// Author: momentics <momentics@gmail.com>

package shm

import "os"

// createBacking uses an unlinked temporary file where memfd is unavailable.
func createBacking(name string) (*os.File, error) {
	f, err := os.CreateTemp("", name+"-*")
	if err != nil {
		return nil, err
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
