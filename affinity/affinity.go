// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-evcore/api"
)

// MaxCPU bounds CPU ids accepted by the setters.
const MaxCPU = 1024

// ErrUnsupported is returned where the platform cannot bind threads.
var ErrUnsupported = errors.WithMessage(api.ErrNotSupported, "affinity")

// SetAffinity pins the current OS thread to a given logical CPU. The caller
// must hold runtime.LockOSThread for the binding to stick to a goroutine.
func SetAffinity(cpuID int) error {
	if cpuID < 0 || cpuID >= MaxCPU {
		return errors.Wrapf(api.ErrInvalidArgument, "affinity: cpu %d", cpuID)
	}
	return setAffinityPlatform([]int{cpuID})
}

// SetAffinitySet pins the current OS thread to any CPU of the set.
func SetAffinitySet(cpus []int) error {
	if len(cpus) == 0 {
		return errors.Wrap(api.ErrInvalidArgument, "affinity: empty cpu set")
	}
	for _, c := range cpus {
		if c < 0 || c >= MaxCPU {
			return errors.Wrapf(api.ErrInvalidArgument, "affinity: cpu %d", c)
		}
	}
	return setAffinityPlatform(cpus)
}

// ClearAffinity lets the thread run on every CPU again. The kernel masks the
// set with the online CPUs.
func ClearAffinity() error {
	all := make([]int, MaxCPU)
	for i := range all {
		all[i] = i
	}
	return setAffinityPlatform(all)
}

// Current returns the CPUs the calling thread may run on.
func Current() ([]int, error) {
	return currentPlatform()
}

// ParseMask decodes one worker_cpu_affinity word: a binary mask whose
// rightmost digit is CPU 0, e.g. "0101" selects CPUs 0 and 2.
func ParseMask(mask string) ([]int, error) {
	mask = strings.TrimSpace(mask)
	if mask == "" {
		return nil, errors.Wrap(api.ErrInvalidArgument, "affinity: empty mask")
	}
	var cpus []int
	for i := len(mask) - 1; i >= 0; i-- {
		switch mask[i] {
		case '1':
			cpus = append(cpus, len(mask)-1-i)
		case '0':
		default:
			return nil, errors.Wrapf(api.ErrInvalidArgument, "affinity: invalid mask %q", mask)
		}
	}
	if len(cpus) == 0 {
		return nil, errors.Wrapf(api.ErrInvalidArgument, "affinity: mask %q selects no cpu", mask)
	}
	return cpus, nil
}

// ForWorker picks the CPU set of a worker from a worker_cpu_affinity value.
// "auto" binds worker n to the n-th allowed CPU, wrapping around; a list of masks is
// indexed by worker and the last mask repeats. An empty value returns nil.
func ForWorker(masks string, worker int) ([]int, error) {
	fields := strings.Fields(masks)
	if len(fields) == 0 {
		return nil, nil
	}
	if fields[0] == "auto" {
		allowed, err := Current()
		if err != nil || len(allowed) == 0 {
			return []int{worker % runtime.NumCPU()}, nil
		}
		return []int{allowed[worker%len(allowed)]}, nil
	}
	if worker >= len(fields) {
		worker = len(fields) - 1
	}
	return ParseMask(fields[worker])
}

// FormatSet renders a cpu list for logs.
func FormatSet(cpus []int) string {
	parts := make([]string, len(cpus))
	for i, c := range cpus {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}
