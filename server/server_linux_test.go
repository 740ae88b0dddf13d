//go:build linux

package server_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/control"
	"github.com/momentics/hioload-evcore/event"
	"github.com/momentics/hioload-evcore/reactor"
	"github.com/momentics/hioload-evcore/server"
)

// echo drains the socket until EAGAIN, writing every chunk back.
func echo(l *event.Loop, c *event.Connection) {
	buf := make([]byte, 512)
	for {
		n, err := unix.Read(c.Fd, buf)
		switch {
		case err == unix.EAGAIN:
			c.Read.Ready = false
			return
		case err == unix.EINTR:
			continue
		case err != nil || n == 0:
			l.CloseConnection(c)
			return
		}
		if _, err := unix.Write(c.Fd, buf[:n]); err != nil {
			l.CloseConnection(c)
			return
		}
	}
}

func newEchoServer(t *testing.T, backend string) (*server.Server, *test.Hook) {
	t.Helper()
	cfg := control.DefaultConfig()
	cfg.Backend = backend
	cfg.Listen = []control.ListenConfig{{Address: "127.0.0.1:0", Network: "tcp"}}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	var srv *server.Server
	handler := func(c *event.Connection) {
		c.Read.Handler = func(ev *event.Event) { echo(srv.Loop(), ev.Data) }
		if c.Read.Ready {
			c.Read.Handler(c.Read)
		}
	}
	srv, err := server.NewServer(cfg, handler, server.WithLogger(logger))
	require.NoError(t, err)
	return srv, hook
}

func TestServerEcho(t *testing.T) {
	for _, backend := range []string{reactor.Epoll, reactor.Poll} {
		t.Run(backend, func(t *testing.T) {
			srv, hook := newEchoServer(t, backend)
			addr := srv.Registry().Listenings()[0].AddrText

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- srv.Run(ctx) }()

			conn, err := net.DialTimeout("tcp", addr, time.Second)
			require.NoError(t, err)
			require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
			_, err = conn.Write([]byte("ping"))
			require.NoError(t, err)
			reply := make([]byte, 4)
			_, err = io.ReadFull(conn, reply)
			require.NoError(t, err)
			assert.Equal(t, "ping", string(reply))
			require.NoError(t, conn.Close())

			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return after cancel")
			}

			st := srv.Stats()
			assert.EqualValues(t, 1, st.Accepted)
			assert.EqualValues(t, 1, st.Handled)
			assert.Equal(t, backend, srv.GetControl().GetConfig()["backend"])
			assert.Contains(t, srv.GetControl().Stats(), "debug.event.stats")
			require.NoError(t, srv.Close())

			var started bool
			for _, e := range hook.AllEntries() {
				if e.Message == "worker loop started" {
					started = true
				}
			}
			assert.True(t, started)
		})
	}
}

func TestNewServerRejectsBadInput(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.Listen = []control.ListenConfig{{Address: "127.0.0.1:0"}}
	_, err := server.NewServer(cfg, nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	cfg.Backend = "select"
	_, err = server.NewServer(cfg, func(*event.Connection) {})
	assert.ErrorIs(t, err, api.ErrNotSupported)

	cfg = control.DefaultConfig()
	cfg.Workers = 0
	_, err = server.NewServer(cfg, func(*event.Connection) {})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
