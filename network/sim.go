package network

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// SimConfig configures a SimNetwork.
type SimConfig struct {
	// Delay is added to every delivery, if positive.
	Delay time.Duration

	// LossProbability is the chance, in [0, 1], that a packet is dropped.
	LossProbability float64

	// Seed seeds the source of randomness used for loss.
	Seed uint64

	// QueueSize is the number of arrived packets each node buffers before
	// dropping further arrivals. Defaults to 256, if 0.
	QueueSize int

	// Intercept, if set, is called for every packet sent, before loss is
	// applied. Returning false drops the packet. It is called by the sending
	// goroutine, must not retain data, and must not call the SimNetwork.
	Intercept func(from, to Addr, data []byte, broadcast bool) bool
}

// SimStats counts packets through a SimNetwork.
type SimStats struct {
	Sent       uint64
	Broadcasts uint64
	Delivered  uint64
	Dropped    uint64
}

// SimNetwork is an in-process network of nodes. By default every node can
// reach every other node. Once Connect has been called, nodes can reach only
// the nodes they are connected to, and themselves.
type SimNetwork struct {
	mu       sync.Mutex
	cfg      SimConfig
	rand     *rand.Rand
	nodes    map[Addr]*SimNode
	links    map[[2]Addr]struct{}
	topology bool
	stats    SimStats
}

// ErrAddrInUse is returned by SimNetwork.Node for a duplicate address.
var ErrAddrInUse = errors.New("network: address in use")

// NewSimNetwork creates an empty network.
func NewSimNetwork(cfg SimConfig) *SimNetwork {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	return &SimNetwork{
		cfg:   cfg,
		rand:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1|1)),
		nodes: make(map[Addr]*SimNode),
		links: make(map[[2]Addr]struct{}),
	}
}

// Node attaches a node with the given address.
func (x *SimNetwork) Node(addr Addr) (*SimNode, error) {
	if !addr.IsValid() {
		return nil, fmt.Errorf("network: invalid address %v", addr)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.nodes[addr]; ok {
		return nil, ErrAddrInUse
	}
	n := &SimNode{
		net:     x,
		addr:    addr,
		packets: make(chan Packet, x.cfg.QueueSize),
	}
	x.nodes[addr] = n
	return n, nil
}

// Connect makes a and b reachable from each other, switching the network
// to an explicit topology.
func (x *SimNetwork) Connect(a, b Addr) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.topology = true
	x.links[[2]Addr{a, b}] = struct{}{}
	x.links[[2]Addr{b, a}] = struct{}{}
}

// Disconnect removes a link added by Connect.
func (x *SimNetwork) Disconnect(a, b Addr) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.links, [2]Addr{a, b})
	delete(x.links, [2]Addr{b, a})
}

// Stats returns a snapshot of the packet counters.
func (x *SimNetwork) Stats() SimStats {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stats
}

func (x *SimNetwork) reachable(from, to Addr) bool {
	if from == to || !x.topology {
		return true
	}
	_, ok := x.links[[2]Addr{from, to}]
	return ok
}

// send delivers data to each of dst, applying loss independently.
func (x *SimNetwork) send(from Addr, data []byte, broadcast bool, dst ...Addr) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.stats.Sent++
	if broadcast {
		x.stats.Broadcasts++
	}
	for _, to := range dst {
		node := x.nodes[to]
		if node == nil || !x.reachable(from, to) {
			x.stats.Dropped++
			continue
		}
		if x.cfg.Intercept != nil && !x.cfg.Intercept(from, to, data, broadcast) {
			x.stats.Dropped++
			continue
		}
		if x.cfg.LossProbability > 0 && x.rand.Float64() < x.cfg.LossProbability {
			x.stats.Dropped++
			continue
		}
		pkt := Packet{From: from, Data: append([]byte(nil), data...)}
		if x.cfg.Delay > 0 {
			time.AfterFunc(x.cfg.Delay, func() {
				x.mu.Lock()
				defer x.mu.Unlock()
				x.deliver(node, pkt)
			})
			continue
		}
		x.deliver(node, pkt)
	}
}

func (x *SimNetwork) deliver(node *SimNode, pkt Packet) {
	if node.closed {
		x.stats.Dropped++
		return
	}
	select {
	case node.packets <- pkt:
		x.stats.Delivered++
	default:
		x.stats.Dropped++
	}
}

// SimNode is a Transport attached to a SimNetwork.
type SimNode struct {
	net     *SimNetwork
	addr    Addr
	packets chan Packet
	closed  bool // guarded by net.mu
}

var _ Transport = (*SimNode)(nil)

// LocalAddr implements Transport.
func (x *SimNode) LocalAddr() Addr {
	return x.addr
}

// Send implements Transport.
func (x *SimNode) Send(dst Addr, hdr, payload []byte) error {
	data, err := joinPacket(hdr, payload)
	if err != nil {
		return err
	}
	if x.isClosed() {
		return ErrClosed
	}
	x.net.send(x.addr, data, false, dst)
	return nil
}

// Broadcast implements Transport.
func (x *SimNode) Broadcast(hdr, payload []byte) error {
	data, err := joinPacket(hdr, payload)
	if err != nil {
		return err
	}
	if x.isClosed() {
		return ErrClosed
	}
	x.net.mu.Lock()
	dst := make([]Addr, 0, len(x.net.nodes))
	for addr := range x.net.nodes {
		if addr != x.addr {
			dst = append(dst, addr)
		}
	}
	x.net.mu.Unlock()
	x.net.send(x.addr, data, true, dst...)
	return nil
}

// Packets implements Transport.
func (x *SimNode) Packets() <-chan Packet {
	return x.packets
}

// Close implements Transport. The node's address remains reserved.
func (x *SimNode) Close() error {
	x.net.mu.Lock()
	defer x.net.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	close(x.packets)
	return nil
}

func (x *SimNode) isClosed() bool {
	x.net.mu.Lock()
	defer x.net.mu.Unlock()
	return x.closed
}
