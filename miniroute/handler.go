package miniroute

import (
	"slices"

	"github.com/joeycumines/go-minithreads/network"
)

// Handle is the packet arrival handler, for every packet from the
// transport.
func (x *Router) Handle(pkt network.Packet) {
	var h routingHeader
	if err := h.unmarshal(pkt.Data); err != nil {
		x.drop(pkt.From, "malformed")
		return
	}
	body := pkt.Data[h.size():]
	self := x.self

	switch h.kind {
	case kindData:
		if h.dst == self {
			x.stats.Delivered++
			x.deliver(network.Packet{From: h.path[0], Data: body})
			return
		}
		x.forward(&h, body)

	case kindDiscovery:
		x.handleDiscovery(&h)

	case kindReply:
		if h.dst == self {
			x.handleReply(&h)
			return
		}
		x.forward(&h, body)
	}
}

// forward sends a data packet or reply on to the hop after this node.
func (x *Router) forward(h *routingHeader, body []byte) {
	self := x.self
	i := slices.Index(h.path, self)
	if i < 0 || i+1 >= len(h.path) {
		x.drop(h.path[0], "not on path")
		return
	}
	if h.ttl <= 1 {
		x.drop(h.path[0], "ttl expired")
		return
	}
	h.ttl--
	if err := x.tr.Send(h.path[i+1], h.marshal(), body); err != nil {
		x.log.Debug().
			Err(err).
			Stringer("next", h.path[i+1]).
			Log("miniroute: forward failed")
		return
	}
	x.stats.Forwarded++
}

func (x *Router) handleDiscovery(h *routingHeader) {
	self := x.self
	origin := h.path[0]
	if slices.Contains(h.path, self) {
		return
	}
	now := x.sys.Ticks()
	key := seenKey{origin: origin, id: h.id}
	if at, ok := x.seen[key]; ok && now-at <= x.seenHorizon() {
		x.drop(origin, "duplicate discovery")
		return
	}
	if len(x.seen) >= seenSweepSize {
		x.expireSeen(now)
	}
	x.seen[key] = now

	if h.dst == self {
		path := reversed(append(h.path, self))
		reply := routingHeader{
			kind: kindReply,
			dst:  origin,
			id:   h.id,
			ttl:  uint32(x.opts.maxRouteLength),
			path: path,
		}
		if err := x.tr.Send(path[1], reply.marshal(), nil); err != nil {
			x.log.Debug().
				Err(err).
				Stringer("origin", origin).
				Log("miniroute: reply failed")
			return
		}
		x.stats.Replies++
		return
	}

	if h.ttl <= 1 {
		x.drop(origin, "ttl expired")
		return
	}
	// the destination must still fit on the path
	if len(h.path)+2 > x.opts.maxRouteLength {
		x.drop(origin, "path too long")
		return
	}
	if _, ok := x.limiter.Allow(origin); !ok {
		x.drop(origin, "rebroadcast rate limited")
		return
	}
	h.ttl--
	h.path = append(h.path, self)
	if err := x.tr.Broadcast(h.marshal(), nil); err != nil {
		x.log.Debug().
			Err(err).
			Log("miniroute: rebroadcast failed")
		return
	}
	x.stats.Forwarded++
}

func (x *Router) handleReply(h *routingHeader) {
	target := h.path[0]
	d := x.pending[target]
	if d == nil || d.signalled || d.id != h.id {
		x.drop(target, "unexpected reply")
		return
	}
	path := reversed(h.path)
	if path[0] != x.self {
		x.drop(target, "reply path does not start here")
		return
	}
	d.path = path
	d.signalled = true
	d.reply.V()
}

func (x *Router) drop(from network.Addr, reason string) {
	x.stats.Dropped++
	x.log.Debug().
		Limit().
		Stringer("from", from).
		Str("reason", reason).
		Log("miniroute: dropped packet")
}
