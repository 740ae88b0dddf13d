//go:build !linux

// internal/concurrency/yield_other.go
// Author: momentics <momentics@gmail.com>

package concurrency

import "runtime"

func osYield() {
	runtime.Gosched()
}
