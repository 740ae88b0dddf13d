//go:build linux

package reactor_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
	"github.com/momentics/hioload-evcore/internal/shm"
	"github.com/momentics/hioload-evcore/reactor"
)

func openRegistry(t *testing.T, handler func(*event.Connection)) (*event.Registry, *event.Listening) {
	logger, _ := test.NewNullLogger()
	r := event.NewRegistry(logger)
	ls := &event.Listening{Network: "tcp4", Address: "127.0.0.1:0", Handler: handler}
	require.NoError(t, r.Add(ls))
	require.NoError(t, r.Open())
	t.Cleanup(func() { r.Close() })
	return r, ls
}

func dial(t *testing.T, addr string) net.Conn {
	conn, err := net.Dial("tcp4", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewByName(t *testing.T) {
	for _, name := range []string{"", reactor.Auto, reactor.Epoll, reactor.Poll} {
		b, err := reactor.New(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, b.Name())
	}
	_, err := reactor.New(reactor.Kqueue)
	assert.ErrorIs(t, err, api.ErrNotSupported)
	_, err = reactor.New("select")
	assert.ErrorIs(t, err, api.ErrNotSupported)
}

func TestDrainCompleteness(t *testing.T) {
	for _, name := range []string{reactor.Epoll, reactor.Poll} {
		t.Run(name, func(t *testing.T) {
			var accepted []*event.Connection
			reg, ls := openRegistry(t, func(c *event.Connection) { accepted = append(accepted, c) })
			b, err := reactor.New(name)
			require.NoError(t, err)
			logger, _ := test.NewNullLogger()
			loop, err := event.NewLoop(event.LoopConfig{Connections: 32, MultiAccept: true}, b, reg, event.WithLogger(logger))
			require.NoError(t, err)
			defer loop.Close()

			const pending = 5
			for i := 0; i < pending; i++ {
				dial(t, ls.AddrText)
			}
			require.NoError(t, loop.ProcessEventsAndTimers())

			assert.Len(t, accepted, pending)
			assert.Equal(t, event.AcceptWatching, ls.Connection().Read.AcceptState)
			for _, c := range accepted {
				flags, err := unix.FcntlInt(uintptr(c.Fd), unix.F_GETFL, 0)
				require.NoError(t, err)
				assert.NotZero(t, flags&unix.O_NONBLOCK)
			}
			assert.EqualValues(t, pending, loop.Stats().Handled)
		})
	}
}

func TestReadReadinessAndClose(t *testing.T) {
	for _, name := range []string{reactor.Epoll, reactor.Poll} {
		t.Run(name, func(t *testing.T) {
			var loop *event.Loop
			got := make(chan string, 1)
			reg, ls := openRegistry(t, func(c *event.Connection) {
				c.Read.Handler = func(ev *event.Event) {
					buf := make([]byte, 16)
					n, err := unix.Read(ev.Data.Fd, buf)
					if err == unix.EAGAIN {
						return
					}
					if n > 0 {
						got <- string(buf[:n])
					}
					loop.CloseConnection(ev.Data)
				}
			})
			b, err := reactor.New(name)
			require.NoError(t, err)
			loop, err = event.NewLoop(event.LoopConfig{Connections: 8, MultiAccept: true}, b, reg)
			require.NoError(t, err)
			defer loop.Close()

			conn := dial(t, ls.AddrText)
			_, err = conn.Write([]byte("ping"))
			require.NoError(t, err)

			tick := &event.Event{Handler: func(*event.Event) {}}
			deadline := time.Now().Add(2 * time.Second)
			for len(got) == 0 && time.Now().Before(deadline) {
				loop.AddTimer(tick, 20*time.Millisecond)
				require.NoError(t, loop.ProcessEventsAndTimers())
			}
			require.Len(t, got, 1)
			assert.Equal(t, "ping", <-got)
			assert.Equal(t, 1, loop.Pool().InUse(), "only the listener remains")
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	reg, _ := openRegistry(t, func(*event.Connection) {})
	loop, err := event.NewLoop(event.LoopConfig{Connections: 4}, reactor.NewEpoll(), reg)
	require.NoError(t, err)
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not wake up on cancel")
	}
}

// Three workers share one listener and one zone; a single client connection
// must be accepted by exactly one of them.
func TestSharedListenerAcceptedOnce(t *testing.T) {
	z, err := shm.Create("evcore-scenario")
	require.NoError(t, err)
	defer z.File().Close()
	defer z.Close()

	master, ls := openRegistry(t, func(*event.Connection) {})
	logger, _ := test.NewNullLogger()

	const workers = 3
	var counts [workers]atomic.Int64
	loops := make([]*event.Loop, workers)
	for i := 0; i < workers; i++ {
		_, files, err := master.Publish()
		require.NoError(t, err)
		reg := event.NewRegistry(logger)
		_, err = reg.AdoptFiles(files)
		require.NoError(t, err)

		var loop *event.Loop
		n := &counts[i]
		require.NoError(t, reg.Add(&event.Listening{
			Network: "tcp4",
			Address: ls.AddrText,
			Handler: func(c *event.Connection) {
				n.Add(1)
				loop.CloseConnection(c)
			},
		}))
		require.NoError(t, reg.Open())
		t.Cleanup(func() { reg.Close() })

		loop, err = event.NewLoop(event.LoopConfig{
			Connections:      8,
			MultiAccept:      true,
			AcceptMutex:      true,
			AcceptMutexDelay: 5 * time.Millisecond,
			MutexValue:       int64(i + 1),
		}, reactor.NewEpoll(), reg, event.WithZone(z), event.WithLogger(logger))
		require.NoError(t, err)
		loops[i] = loop
	}

	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group
	for _, loop := range loops {
		loop := loop
		g.Go(func() error { return loop.Run(ctx) })
	}

	dial(t, ls.AddrText)
	total := func() int64 {
		var s int64
		for i := range counts {
			s += counts[i].Load()
		}
		return s
	}
	require.Eventually(t, func() bool { return total() == 1 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.NoError(t, g.Wait())
	for _, loop := range loops {
		loop.Close()
	}

	assert.EqualValues(t, 1, total())
	winners := 0
	for i := range counts {
		if counts[i].Load() == 1 {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.EqualValues(t, 1, z.Load(shm.StatAccepted))
	assert.EqualValues(t, 0, z.Load(shm.AcceptMutex), "mutex released on close")
}
