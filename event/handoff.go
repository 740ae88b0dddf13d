// File: event/handoff.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"os"
	"strconv"

	"github.com/coreos/go-systemd/v22/activation"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
)

// HandoffEnv carries the encoded Handoff to a successor process.
const HandoffEnv = "HIOLOAD_INHERITED_SOCKETS"

// FirstExtraFd is where exec places the first extra file of a child.
const FirstExtraFd = 3

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HandoffEntry describes one published listening socket.
type HandoffEntry struct {
	Network string `json:"network"`
	Address string `json:"address"`
	// File is the position in the published file list.
	File           int  `json:"file"`
	Backlog        int  `json:"backlog,omitempty"`
	DeferredAccept bool `json:"deferred_accept,omitempty"`
}

// Handoff is the manifest a process publishes for its successor.
type Handoff struct {
	Version int            `json:"version"`
	FdBase  int            `json:"fd_base"`
	Entries []HandoffEntry `json:"entries"`
}

const handoffVersion = 1

// Publish duplicates every open descriptor for a successor. The returned
// files belong to the caller, who typically passes them as exec extra
// files and closes them after the child starts.
func (r *Registry) Publish() (*Handoff, []*os.File, error) {
	h := &Handoff{Version: handoffVersion, FdBase: FirstExtraFd}
	var files []*os.File
	for _, ls := range r.entries {
		if !ls.Open {
			continue
		}
		dup, err := unix.Dup(ls.Fd)
		if err != nil {
			for _, f := range files {
				f.Close()
			}
			return nil, nil, errors.Wrapf(err, "dup %s", ls.AddrText)
		}
		unix.CloseOnExec(dup)
		files = append(files, os.NewFile(uintptr(dup), ls.AddrText))
		h.Entries = append(h.Entries, HandoffEntry{
			Network:        ls.Network,
			Address:        ls.AddrText,
			File:           len(files) - 1,
			Backlog:        ls.Backlog,
			DeferredAccept: ls.DeferredAccept,
		})
	}
	return h, files, nil
}

// Encode renders the manifest for HandoffEnv.
func (h *Handoff) Encode() (string, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return "", errors.Wrap(err, "encode handoff")
	}
	return string(b), nil
}

// Env returns the KEY=value pair for a child environment.
func (h *Handoff) Env() (string, error) {
	s, err := h.Encode()
	if err != nil {
		return "", err
	}
	return HandoffEnv + "=" + s, nil
}

// DecodeHandoff parses an encoded manifest.
func DecodeHandoff(s string) (*Handoff, error) {
	var h Handoff
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil, errors.Wrap(err, "decode handoff")
	}
	if h.Version != handoffVersion {
		return nil, errors.Wrapf(api.ErrNotSupported, "handoff version %d", h.Version)
	}
	if h.FdBase == 0 {
		h.FdBase = FirstExtraFd
	}
	return &h, nil
}

// AdoptHandoff registers the descriptors listed in h as inherited.
func (r *Registry) AdoptHandoff(h *Handoff) (int, error) {
	n := 0
	for _, e := range h.Entries {
		fd := h.FdBase + e.File
		ls, err := r.adopt(fd)
		if err != nil {
			return n, errors.Wrapf(err, "adopt %s", e.Address)
		}
		ls.Backlog = e.Backlog
		ls.DeferredAccept = e.DeferredAccept
		n++
	}
	return n, nil
}

// AdoptFromEnv adopts the sockets published by a predecessor, if any, and
// clears the variable so it does not leak to further children.
func (r *Registry) AdoptFromEnv() (int, error) {
	s, ok := os.LookupEnv(HandoffEnv)
	if !ok || s == "" {
		return 0, nil
	}
	os.Unsetenv(HandoffEnv)
	h, err := DecodeHandoff(s)
	if err != nil {
		return 0, err
	}
	return r.AdoptHandoff(h)
}

// AdoptSystemd adopts sockets passed by systemd socket activation.
func (r *Registry) AdoptSystemd() (int, error) {
	return r.AdoptFiles(activation.Files(true))
}

// AdoptFiles adopts arbitrary listening files. The files are closed; the
// registry keeps duplicates.
func (r *Registry) AdoptFiles(files []*os.File) (int, error) {
	n := 0
	for _, f := range files {
		dup, err := unix.Dup(int(f.Fd()))
		f.Close()
		if err != nil {
			return n, errors.Wrapf(err, "dup %s", f.Name())
		}
		unix.CloseOnExec(dup)
		if _, err := r.adopt(dup); err != nil {
			unix.Close(dup)
			return n, err
		}
		n++
	}
	return n, nil
}

// ZoneFdEnv names the inherited descriptor of the shared zone.
const ZoneFdEnv = "HIOLOAD_ZONE_FD"

// ZoneFdFromEnv returns the shared zone descriptor passed by a parent.
func ZoneFdFromEnv() (int, bool) {
	s := os.Getenv(ZoneFdEnv)
	if s == "" {
		return -1, false
	}
	fd, err := strconv.Atoi(s)
	if err != nil || fd < 0 {
		return -1, false
	}
	return fd, true
}
