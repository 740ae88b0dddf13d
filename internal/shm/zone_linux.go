//go:build linux

// internal/shm/zone_linux.go
// Author: momentics <momentics@gmail.com>

package shm

import (
	"os"

	"golang.org/x/sys/unix"
)

func createBacking(name string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), "memfd:"+name), nil
}
