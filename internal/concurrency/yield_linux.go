//go:build linux

// internal/concurrency/yield_linux.go
// Author: momentics <momentics@gmail.com>

package concurrency

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// osYield gives the processor to another goroutine and then to another
// process, so a lock holder in a sibling worker can run.
func osYield() {
	runtime.Gosched()
	_, _, _ = unix.RawSyscall(unix.SYS_SCHED_YIELD, 0, 0, 0)
}
