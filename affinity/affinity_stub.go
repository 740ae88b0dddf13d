//go:build !linux
// +build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package affinity

func setAffinityPlatform(cpus []int) error {
	return ErrUnsupported
}

func currentPlatform() ([]int, error) {
	return nil, ErrUnsupported
}
