package minisocket

import (
	"bytes"
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/joeycumines/go-minithreads/minithread"
	"github.com/joeycumines/go-minithreads/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddr(i int) network.Addr {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, byte(i)}), 8086)
}

type testNet struct {
	sys     *minithread.System
	sim     *network.SimNetwork
	sockets []*Sockets
	nodes   []*network.SimNode
}

func newTestNet(t *testing.T, n int, cfg network.SimConfig, opts ...Option) *testNet {
	t.Helper()
	sys, err := minithread.New(minithread.WithClock(minithread.NewTickerClock(time.Millisecond)), minithread.WithSeed(1))
	require.NoError(t, err)
	x := &testNet{sys: sys, sim: network.NewSimNetwork(cfg)}
	for i := 0; i < n; i++ {
		node, err := x.sim.Node(testAddr(i + 1))
		require.NoError(t, err)
		sockets, err := New(sys, network.Direct{Transport: node}, opts...)
		require.NoError(t, err)
		x.nodes = append(x.nodes, node)
		x.sockets = append(x.sockets, sockets)
	}
	return x
}

func (x *testNet) run(t *testing.T, main func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i, node := range x.nodes {
		mux := network.NewMux(nil)
		mux.Handle(network.ProtocolStream, x.sockets[i].Handle)
		go func() { _ = network.Pump(ctx, x.sys, nil, node.Packets(), mux.Dispatch) }()
	}
	require.NoError(t, x.sys.Run(ctx, main))
}

// serve forks a thread accepting a connection on port, and waits for it to
// start listening.
func (x *testNet) serve(t *testing.T, node, port int) func() (*Socket, error) {
	t.Helper()
	done := x.sys.NewSemaphore(0)
	var (
		s   *Socket
		err error
	)
	_, forkErr := x.sys.Fork(func() {
		defer done.V()
		s, err = x.sockets[node].ServerCreate(port)
	})
	require.NoError(t, forkErr)
	for i := 0; i < 1000 && x.sockets[node].ports[port] == nil; i++ {
		x.sys.Yield()
	}
	require.NotNil(t, x.sockets[node].ports[port])
	return func() (*Socket, error) {
		done.P()
		return s, err
	}
}

// connect establishes a connection from node 0 to node 1.
func (x *testNet) connect(t *testing.T, port int) (client, server *Socket) {
	t.Helper()
	accept := x.serve(t, 1, port)
	client, err := x.sockets[0].ClientCreate(testAddr(2), port)
	require.NoError(t, err)
	server, err = accept()
	require.NoError(t, err)
	return client, server
}

func TestNew_invalid(t *testing.T) {
	sys, err := minithread.New()
	require.NoError(t, err)
	node, err := network.NewSimNetwork(network.SimConfig{}).Node(testAddr(1))
	require.NoError(t, err)
	link := network.Direct{Transport: node}

	_, err = New(nil, link)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = New(sys, nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	for _, opt := range []Option{
		WithInitialTimeout(0),
		WithMaxPayload(0),
		WithMaxTimeout(DefaultInitialTimeout - 1),
		WithResetLimits(map[time.Duration]int{time.Second: -1}),
	} {
		_, err = New(sys, link, opt)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	}
	_, err = New(sys, link, nil, WithResetLimits(nil), WithLogger(nil))
	assert.NoError(t, err)
}

func TestSockets_handshake(t *testing.T) {
	net := newTestNet(t, 2, network.SimConfig{})
	net.run(t, func() {
		client, server := net.connect(t, 80)

		assert.Equal(t, StatusConnected, client.Status())
		assert.Equal(t, StatusConnected, server.Status())
		assert.Equal(t, 80, server.Port())
		assert.Equal(t, MinClient, client.Port())

		addr, port := client.Remote()
		assert.Equal(t, testAddr(2), addr)
		assert.Equal(t, 80, port)
		addr, port = server.Remote()
		assert.Equal(t, testAddr(1), addr)
		assert.Equal(t, client.Port(), port)

		seq, ack := client.Sequence()
		assert.Equal(t, uint32(1), seq)
		assert.Equal(t, uint32(1), ack)
		seq, ack = server.Sequence()
		assert.Equal(t, uint32(1), seq)
		assert.Equal(t, uint32(1), ack)
	})
}

func TestSocket_SendReceive(t *testing.T) {
	net := newTestNet(t, 2, network.SimConfig{})
	net.run(t, func() {
		client, server := net.connect(t, 80)

		n, err := client.Send([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		buf := make([]byte, 64)
		n, err = server.Receive(buf)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf[:n]))

		_, err = server.Send([]byte("world"))
		require.NoError(t, err)
		n, err = client.Receive(buf)
		require.NoError(t, err)
		assert.Equal(t, "world", string(buf[:n]))

		seq, _ := client.Sequence()
		assert.Equal(t, uint32(2), seq)
		_, ack := server.Sequence()
		assert.Equal(t, uint32(2), ack)

		n, err = client.Send(nil)
		assert.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSocket_Receive_byteStream(t *testing.T) {
	net := newTestNet(t, 2, network.SimConfig{})
	net.run(t, func() {
		client, server := net.connect(t, 80)

		_, err := client.Send([]byte("abc"))
		require.NoError(t, err)
		_, err = client.Send([]byte("defgh"))
		require.NoError(t, err)

		var got []byte
		buf := make([]byte, 2)
		for len(got) < 8 {
			n, err := server.Receive(buf)
			require.NoError(t, err)
			got = append(got, buf[:n]...)
		}
		assert.Equal(t, "abcdefgh", string(got))
	})
}

func TestSocket_Send_fragments(t *testing.T) {
	net := newTestNet(t, 2, network.SimConfig{}, WithMaxPayload(4))
	net.run(t, func() {
		client, server := net.connect(t, 80)

		msg := []byte("the quick brown fox")
		n, err := client.Send(msg)
		require.NoError(t, err)
		assert.Equal(t, len(msg), n)
		seq, _ := client.Sequence()
		assert.Equal(t, uint32(1+5), seq)

		var got []byte
		buf := make([]byte, 64)
		for len(got) < len(msg) {
			n, err := server.Receive(buf)
			require.NoError(t, err)
			assert.LessOrEqual(t, n, 64)
			got = append(got, buf[:n]...)
		}
		assert.Equal(t, msg, got)
	})
}

func TestSocket_lossyInOrder(t *testing.T) {
	net := newTestNet(t, 2, network.SimConfig{LossProbability: 0.2, Seed: 7}, WithInitialTimeout(5), WithMaxTimeout(5<<12), WithMaxPayload(16))
	net.run(t, func() {
		client, server := net.connect(t, 80)

		msg := bytes.Repeat([]byte("0123456789"), 20)
		done := net.sys.NewSemaphore(0)
		var sendErr error
		_, err := net.sys.Fork(func() {
			defer done.V()
			_, sendErr = client.Send(msg)
		})
		require.NoError(t, err)

		var got []byte
		buf := make([]byte, 7)
		for len(got) < len(msg) {
			n, err := server.Receive(buf)
			require.NoError(t, err)
			got = append(got, buf[:n]...)
		}
		done.P()
		require.NoError(t, sendErr)
		assert.Equal(t, msg, got)
		assert.NotZero(t, net.sockets[0].Stats().Retransmissions+net.sockets[1].Stats().Retransmissions)
	})
}

func TestSocket_Close_peerErrors(t *testing.T) {
	net := newTestNet(t, 2, network.SimConfig{})
	net.run(t, func() {
		client, server := net.connect(t, 80)

		_, err := server.Send([]byte("last words"))
		require.NoError(t, err)
		server.Close()
		assert.Equal(t, StatusClosed, server.Status())

		// buffered data is still readable
		buf := make([]byte, 64)
		n, err := client.Receive(buf)
		require.NoError(t, err)
		assert.Equal(t, "last words", string(buf[:n]))

		_, err = client.Receive(buf)
		assert.ErrorIs(t, err, ErrReceiveError)
		_, err = client.Send([]byte("anyone there?"))
		assert.ErrorIs(t, err, ErrSendError)

		var opErr *Error
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "send", opErr.Op)
		assert.Equal(t, client.Port(), opErr.Port)

		client.Close()
		client.Close()
		assert.Equal(t, StatusClosed, client.Status())
		_, err = client.Receive(buf)
		assert.ErrorIs(t, err, ErrReceiveError)
	})
}

func TestSocket_Close_wakesReceiver(t *testing.T) {
	net := newTestNet(t, 2, network.SimConfig{})
	net.run(t, func() {
		client, _ := net.connect(t, 80)

		done := net.sys.NewSemaphore(0)
		var recvErr error
		_, err := net.sys.Fork(func() {
			defer done.V()
			_, recvErr = client.Receive(make([]byte, 8))
		})
		require.NoError(t, err)
		for i := 0; i < 1000 && client.dataReady.Waiting() == 0; i++ {
			net.sys.Yield()
		}
		client.Close()
		done.P()
		assert.ErrorIs(t, recvErr, ErrReceiveError)
	})
}

func TestSockets_ServerCreate_portInUse(t *testing.T) {
	net := newTestNet(t, 2, network.SimConfig{})
	net.run(t, func() {
		_, _ = net.connect(t, 80)
		_, err := net.sockets[1].ServerCreate(80)
		assert.ErrorIs(t, err, ErrPortInUse)
		for _, port := range []int{-1, MaxServer + 1} {
			_, err = net.sockets[1].ServerCreate(port)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		}
	})
}

func TestSockets_ClientCreate_noServer(t *testing.T) {
	net := newTestNet(t, 2, network.SimConfig{})
	net.run(t, func() {
		// nothing listening, the peer replies FIN
		start := net.sys.Ticks()
		_, err := net.sockets[0].ClientCreate(testAddr(2), 81)
		assert.ErrorIs(t, err, ErrNoServer)
		assert.Less(t, net.sys.Ticks()-start, uint64(DefaultInitialTimeout))
		assert.Equal(t, uint64(1), net.sockets[1].Stats().Resets)
		assert.Empty(t, net.sockets[0].ports)

		_, err = net.sockets[0].ClientCreate(network.Addr{}, 81)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestSockets_ClientCreate_serverBusy(t *testing.T) {
	net := newTestNet(t, 3, network.SimConfig{})
	net.run(t, func() {
		_, _ = net.connect(t, 80)
		_, err := net.sockets[2].ClientCreate(testAddr(2), 80)
		assert.ErrorIs(t, err, ErrNoServer)
	})
}

func TestSockets_ClientCreate_retransmits(t *testing.T) {
	var attempts []uint64
	var sys *minithread.System
	net := newTestNet(t, 2, network.SimConfig{
		Intercept: func(from, to network.Addr, data []byte, broadcast bool) bool {
			attempts = append(attempts, sys.Ticks())
			return false
		},
	}, WithInitialTimeout(4), WithMaxTimeout(32))
	sys = net.sys
	net.run(t, func() {
		_, err := net.sockets[0].ClientCreate(testAddr(2), 80)
		assert.ErrorIs(t, err, ErrNoServer)
		require.Len(t, attempts, 4)
		for i, timeout := range []uint64{4, 8, 16} {
			assert.GreaterOrEqual(t, attempts[i+1]-attempts[i], timeout)
		}
		assert.Equal(t, uint64(3), net.sockets[0].Stats().Retransmissions)
	})
}

func TestSocket_Send_timeout(t *testing.T) {
	var (
		sys      *minithread.System
		blocked  bool
		attempts []uint64
	)
	net := newTestNet(t, 2, network.SimConfig{
		Intercept: func(from, to network.Addr, data []byte, broadcast bool) bool {
			if !blocked {
				return true
			}
			attempts = append(attempts, sys.Ticks())
			return false
		},
	}, WithInitialTimeout(4), WithMaxTimeout(32))
	sys = net.sys
	net.run(t, func() {
		client, _ := net.connect(t, 80)
		before, _ := client.Sequence()

		blocked = true
		n, err := client.Send([]byte("into the void"))
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Zero(t, n)

		require.Len(t, attempts, 4)
		for i, timeout := range []uint64{4, 8, 16} {
			assert.GreaterOrEqual(t, attempts[i+1]-attempts[i], timeout)
		}
		after, _ := client.Sequence()
		assert.Equal(t, before, after)
		assert.Equal(t, StatusClosed, client.Status())

		_, err = client.Send([]byte("again"))
		assert.ErrorIs(t, err, ErrSendError)
	})
}

func TestSocket_nil(t *testing.T) {
	var s *Socket
	_, err := s.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = s.Receive(make([]byte, 1))
	assert.ErrorIs(t, err, ErrInvalidParameter)
	s.Close()
}
