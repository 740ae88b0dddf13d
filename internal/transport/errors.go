// File: internal/transport/errors.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"syscall"

	"github.com/pkg/errors"
)

// ErrorClass groups accept/connect failures by how the caller must react.
type ErrorClass int

const (
	// Transient: nothing pending, try again on the next notification.
	Transient ErrorClass = iota
	// PerConnection: this candidate is gone, the next one may succeed.
	PerConnection
	// Exhaustion: the process ran out of descriptors; throttle accepting.
	Exhaustion
	// Unsupported: the syscall is missing, fall back.
	Unsupported
	// Fatal: anything else.
	Fatal
)

func (c ErrorClass) String() string {
	switch c {
	case Transient:
		return "transient"
	case PerConnection:
		return "per-connection"
	case Exhaustion:
		return "exhaustion"
	case Unsupported:
		return "unsupported"
	}
	return "fatal"
}

// Classify maps an errno to its ErrorClass.
func Classify(err error) ErrorClass {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return Fatal
	}
	switch errno {
	case syscall.EAGAIN, syscall.EINTR:
		return Transient
	case syscall.ECONNABORTED, syscall.EPROTO, syscall.EPERM:
		return PerConnection
	case syscall.EMFILE, syscall.ENFILE:
		return Exhaustion
	case syscall.ENOSYS:
		return Unsupported
	}
	return Fatal
}
