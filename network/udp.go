package network

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/joeycumines/logiface"
)

var errInvalidQueueSize = errors.New("network: queue size must be positive")

// UDPTransport is a Transport over a UDP socket. Broadcast sends a copy of
// the packet to each configured peer.
type UDPTransport struct {
	conn    *net.UDPConn
	addr    Addr
	peers   []Addr
	log     *logiface.Logger[logiface.Event]
	packets chan Packet
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

var _ Transport = (*UDPTransport)(nil)

// NewUDPTransport listens on addr, e.g. "0.0.0.0:8086". The socket is
// created with address reuse enabled, and permission to broadcast.
func NewUDPTransport(ctx context.Context, addr string, opts ...UDPOption) (*UDPTransport, error) {
	cfg, err := resolveUDPOptions(opts)
	if err != nil {
		return nil, err
	}
	lc := net.ListenConfig{Control: controlSocket}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	local = netip.AddrPortFrom(local.Addr().Unmap(), local.Port())

	x := &UDPTransport{
		conn:    conn,
		addr:    local,
		peers:   cfg.peers,
		log:     cfg.logger,
		packets: make(chan Packet, cfg.queueSize),
		done:    make(chan struct{}),
	}
	x.wg.Add(1)
	go x.receive()

	x.log.Info().
		Stringer("addr", local).
		Int("peers", len(cfg.peers)).
		Log("network: udp transport listening")

	return x, nil
}

// LocalAddr implements Transport.
func (x *UDPTransport) LocalAddr() Addr {
	return x.addr
}

// Send implements Transport.
func (x *UDPTransport) Send(dst Addr, hdr, payload []byte) error {
	data, err := joinPacket(hdr, payload)
	if err != nil {
		return err
	}
	_, err = x.conn.WriteToUDPAddrPort(data, dst)
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Broadcast implements Transport. It fails only if every peer fails.
func (x *UDPTransport) Broadcast(hdr, payload []byte) error {
	data, err := joinPacket(hdr, payload)
	if err != nil {
		return err
	}
	var errs []error
	for _, peer := range x.peers {
		if peer == x.addr {
			continue
		}
		if _, err := x.conn.WriteToUDPAddrPort(data, peer); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) != 0 && len(errs) == len(x.peers) {
		return errors.Join(errs...)
	}
	return nil
}

// Packets implements Transport.
func (x *UDPTransport) Packets() <-chan Packet {
	return x.packets
}

// Close implements Transport.
func (x *UDPTransport) Close() error {
	var err error
	x.once.Do(func() {
		close(x.done)
		err = x.conn.Close()
		x.wg.Wait()
		close(x.packets)
	})
	return err
}

func (x *UDPTransport) receive() {
	defer x.wg.Done()
	buf := make([]byte, MaxPacketSize)
	for {
		n, from, err := x.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-x.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			x.log.Warning().
				Err(err).
				Log("network: udp read failed")
			continue
		}
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		pkt := Packet{From: from, Data: append([]byte(nil), buf[:n]...)}
		select {
		case x.packets <- pkt:
		case <-x.done:
			return
		default:
			x.log.Debug().
				Limit().
				Stringer("from", from).
				Log("network: receive queue full, dropping packet")
		}
	}
}
