//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific debug probes.

package control

import (
	"os"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/internal/transport"
)

// RegisterPlatformProbes sets Linux-specific debug metrics.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.accept4", func() any {
		return transport.HasAccept4()
	})
	dp.RegisterProbe("platform.nofile", func() any {
		var rl unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
			return err.Error()
		}
		return map[string]uint64{"soft": rl.Cur, "hard": rl.Max}
	})
	dp.RegisterProbe("platform.somaxconn", func() any {
		b, err := os.ReadFile("/proc/sys/net/core/somaxconn")
		if err != nil {
			return err.Error()
		}
		return strings.TrimSpace(string(b))
	})
}
