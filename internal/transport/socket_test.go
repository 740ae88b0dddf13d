//go:build linux

package transport

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
)

func TestListenAcceptLoopback(t *testing.T) {
	lfd, bound, err := Listen("tcp4", "127.0.0.1:0", SocketOptions{Backlog: 16})
	require.NoError(t, err)
	defer Close(lfd)

	_, _, _, err = Accept(lfd)
	assert.Equal(t, Transient, Classify(err), "empty backlog must be EAGAIN")

	cfd, err := Socket(bound)
	require.NoError(t, err)
	defer Close(cfd)
	err = Connect(cfd, bound)
	if err != nil {
		require.ErrorIs(t, err, api.ErrAgain)
	}

	var nfd int
	var nonblocking bool
	for i := 0; i < 1000; i++ {
		nfd, _, nonblocking, err = Accept(lfd)
		if err == nil {
			break
		}
		require.Equal(t, Transient, Classify(err))
	}
	require.NoError(t, err)
	defer Close(nfd)
	assert.Equal(t, HasAccept4(), nonblocking)
}

func TestConfigureOptions(t *testing.T) {
	lfd, _, err := Listen("tcp4", "127.0.0.1:0", SocketOptions{})
	require.NoError(t, err)
	defer Close(lfd)

	errs := Configure(lfd, SocketOptions{
		RcvBuf: 65536, SndBuf: 65536,
		KeepAlive: true, KeepIdle: 30, KeepIntvl: 5, KeepCnt: 3,
		DeferredAccept: true,
	})
	assert.Empty(t, errs)

	v, err := unix.GetsockoptInt(lfd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE)
	require.NoError(t, err)
	assert.Equal(t, 30, v)
}

func TestResolveRejectsUnknownNetwork(t *testing.T) {
	_, _, err := Resolve("udp", "127.0.0.1:1")
	assert.ErrorIs(t, err, api.ErrNotSupported)
}

func TestSockaddrEncoding(t *testing.T) {
	cases := []unix.Sockaddr{
		&unix.SockaddrInet4{Port: 8080, Addr: [4]byte{10, 0, 0, 1}},
		&unix.SockaddrInet6{Port: 443, ZoneId: 2, Addr: [16]byte{0: 0xfe, 1: 0x80, 15: 1}},
		&unix.SockaddrUnix{Name: "/run/app.sock"},
	}
	for _, sa := range cases {
		buf := make([]byte, EncodedLen(sa))
		n, err := EncodeSockaddr(buf, sa)
		require.NoError(t, err)
		got, err := DecodeSockaddr(buf[:n])
		require.NoError(t, err)
		assert.Equal(t, SockaddrString(sa), SockaddrString(got))
	}
	_, err := EncodeSockaddr(make([]byte, 2), cases[0])
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Transient, Classify(syscall.EAGAIN))
	assert.Equal(t, PerConnection, Classify(syscall.ECONNABORTED))
	assert.Equal(t, Exhaustion, Classify(syscall.EMFILE))
	assert.Equal(t, Exhaustion, Classify(syscall.ENFILE))
	assert.Equal(t, Unsupported, Classify(syscall.ENOSYS))
	assert.Equal(t, Fatal, Classify(syscall.EBADF))
	assert.Equal(t, Fatal, Classify(syscall.ENOBUFS), "kernel memory pressure is not descriptor exhaustion")
	assert.Equal(t, Fatal, Classify(syscall.ENOMEM))
	assert.Equal(t, Fatal, Classify(api.ErrClosed))
}
