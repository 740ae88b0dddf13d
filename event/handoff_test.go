//go:build linux

package event_test

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
)

func noop(*event.Connection) {}

func TestRegistryOpenFailureLeavesNothingOpen(t *testing.T) {
	logger, _ := test.NewNullLogger()
	busy := event.NewRegistry(logger)
	require.NoError(t, busy.Add(&event.Listening{Network: "tcp4", Address: "127.0.0.1:0", Handler: noop}))
	require.NoError(t, busy.Open())
	defer busy.Close()
	taken := busy.Listenings()[0].AddrText

	r := event.NewRegistry(logger)
	first := &event.Listening{Network: "tcp4", Address: "127.0.0.1:0", Handler: noop}
	require.NoError(t, r.Add(first))
	require.NoError(t, r.Add(&event.Listening{Network: "tcp4", Address: taken, Handler: noop}))

	err := r.Open()
	require.Error(t, err)
	assert.False(t, first.Open)
	assert.Equal(t, -1, first.Fd)
}

func TestRegistryRejectsDuplicatesAndMissingHandler(t *testing.T) {
	r := event.NewRegistry(nil)
	require.NoError(t, r.Add(&event.Listening{Network: "tcp4", Address: "127.0.0.1:18080", Handler: noop}))
	err := r.Add(&event.Listening{Network: "tcp4", Address: "127.0.0.1:18080", Handler: noop})
	assert.ErrorIs(t, err, api.ErrAlreadyExists)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrCodeAlreadyExists, apiErr.Code)
	assert.Equal(t, "127.0.0.1:18080", apiErr.Context["addr"])
	assert.ErrorIs(t, r.Add(&event.Listening{Address: "127.0.0.1:1"}), api.ErrInvalidArgument)
}

func TestHandoffPublishAndAdopt(t *testing.T) {
	logger, _ := test.NewNullLogger()
	old := event.NewRegistry(logger)
	ls := &event.Listening{Network: "tcp4", Address: "127.0.0.1:0", Backlog: 64, DeferredAccept: true, Handler: noop}
	require.NoError(t, old.Add(ls))
	require.NoError(t, old.Open())
	defer old.Close()

	h, files, err := old.Publish()
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Len(t, h.Entries, 1)
	assert.Equal(t, ls.AddrText, h.Entries[0].Address)

	enc, err := h.Encode()
	require.NoError(t, err)
	decoded, err := event.DecodeHandoff(enc)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)

	// Simulate exec: the file lands at FdBase+File in the child.
	childFd, err := unix.Dup(int(files[0].Fd()))
	require.NoError(t, err)
	files[0].Close()
	decoded.FdBase = childFd
	decoded.Entries[0].File = 0

	next := event.NewRegistry(logger)
	n, err := next.AdoptHandoff(decoded)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, next.Inherited(), 1)
	assert.True(t, next.Inherited()[0].DeferredAccept)

	same := &event.Listening{Network: "tcp4", Address: ls.AddrText, Handler: noop}
	unused := &event.Listening{Network: "tcp4", Address: "127.0.0.1:0", Handler: noop}
	require.NoError(t, next.Add(same))
	require.NoError(t, next.Add(unused))
	require.NoError(t, next.Open())
	defer next.Close()

	assert.True(t, same.Inherited)
	assert.Equal(t, childFd, same.Fd)
	assert.False(t, unused.Inherited)
	assert.Empty(t, next.Inherited())

	flags, err := unix.FcntlInt(uintptr(same.Fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestAdoptFromEnvUnsetsVariable(t *testing.T) {
	r := event.NewRegistry(nil)
	n, err := r.AdoptFromEnv()
	require.NoError(t, err)
	assert.Zero(t, n)

	t.Setenv(event.HandoffEnv, `{"version":9}`)
	_, err = r.AdoptFromEnv()
	assert.ErrorIs(t, err, api.ErrNotSupported)
	_, set := os.LookupEnv(event.HandoffEnv)
	assert.False(t, set)
}

func TestAdoptFilesClosesUnmatched(t *testing.T) {
	logger, _ := test.NewNullLogger()
	src := event.NewRegistry(logger)
	require.NoError(t, src.Add(&event.Listening{Network: "tcp4", Address: "127.0.0.1:0", Handler: noop}))
	require.NoError(t, src.Open())
	defer src.Close()
	_, files, err := src.Publish()
	require.NoError(t, err)

	r := event.NewRegistry(logger)
	n, err := r.AdoptFiles(files)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	adopted := r.Inherited()[0].Fd

	require.NoError(t, r.Open())
	_, err = unix.FcntlInt(uintptr(adopted), unix.F_GETFD, 0)
	assert.ErrorIs(t, err, unix.EBADF)
}

const activationEnv = "EVCORE_TEST_SOCKET_ACTIVATION"

// TestSocketActivatedProcess is the child side of TestAdoptSystemd: fd 3
// is a listening socket, as systemd would pass it.
func TestSocketActivatedProcess(t *testing.T) {
	if os.Getenv(activationEnv) == "" {
		t.Skip("helper process")
	}
	os.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	os.Setenv("LISTEN_FDS", "1")
	r := event.NewRegistry(nil)
	n, err := r.AdoptSystemd()
	if err != nil {
		fmt.Println("error", err)
		os.Exit(1)
	}
	_, left := os.LookupEnv("LISTEN_FDS")
	addr := "-"
	if in := r.Inherited(); len(in) > 0 {
		addr = in[0].AddrText
	}
	fmt.Println(n, addr, left)
	os.Exit(0)
}

func TestAdoptSystemd(t *testing.T) {
	logger, _ := test.NewNullLogger()
	src := event.NewRegistry(logger)
	require.NoError(t, src.Add(&event.Listening{Network: "tcp4", Address: "127.0.0.1:0", Handler: noop}))
	require.NoError(t, src.Open())
	defer src.Close()
	_, files, err := src.Publish()
	require.NoError(t, err)
	defer files[0].Close()

	cmd := exec.Command(os.Args[0], "-test.run=^TestSocketActivatedProcess$")
	cmd.Env = append(os.Environ(), activationEnv+"=1")
	cmd.ExtraFiles = files
	out, err := cmd.Output()
	require.NoError(t, err, string(out))

	line := strings.Fields(strings.SplitN(string(out), "\n", 2)[0])
	require.Len(t, line, 3, string(out))
	assert.Equal(t, "1", line[0])
	assert.Equal(t, src.Listenings()[0].AddrText, line[1])
	assert.Equal(t, "false", line[2], "activation variables are consumed")

	n, err := event.NewRegistry(logger).AdoptSystemd()
	require.NoError(t, err)
	assert.Zero(t, n, "nothing passed to this process")
}
