package miniroute

import (
	"fmt"
	"slices"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-minithreads/minithread"
	"github.com/joeycumines/go-minithreads/network"
	"github.com/joeycumines/logiface"
)

// Stats counts routing events.
type Stats struct {
	// Discoveries counts discovery requests broadcast by this node.
	Discoveries uint64
	// Replies counts replies sent, as a destination.
	Replies uint64
	// CacheHits counts sends that used a fresh cached route.
	CacheHits uint64
	// Forwarded counts packets forwarded or rebroadcast for other nodes.
	Forwarded uint64
	// Delivered counts data packets passed up to the local handler.
	Delivered uint64
	// Dropped counts packets discarded, for any reason.
	Dropped uint64
}

type route struct {
	path  []network.Addr
	found uint64
}

// discovery is the record of an in-flight route discovery. The initiator
// blocks on reply, and every other sender to the same destination blocks on
// release.
type discovery struct {
	release   *minithread.Semaphore
	reply     *minithread.Semaphore
	path      []network.Addr
	id        uint32
	waiters   int
	signalled bool
}

type seenKey struct {
	origin network.Addr
	id     uint32
}

// Router is a network.Link that discovers, caches, and follows multi-hop
// routes.
//
// The route cache and the discovery records are guarded by a single mutex,
// a semaphore. The discovery records and the duplicate suppression table are
// also read by the packet arrival handler, so are only mutated with
// interrupts disabled.
type Router struct {
	sys       *minithread.System
	tr        network.Transport
	self      network.Addr
	deliver   network.Handler
	log       *logiface.Logger[logiface.Event]
	opts      *routerOptions
	limiter   *catrate.Limiter
	mu        *minithread.Semaphore
	cache     map[network.Addr]route
	pending   map[network.Addr]*discovery
	seen      map[seenKey]uint64
	lastReqID uint32
	lastPktID uint32
	stats     Stats
}

var _ network.Link = (*Router)(nil)

// New creates a Router sending over tr. Data packets addressed to this node
// are passed to deliver, with the routing header removed, and From set to
// the originating node. The caller must arrange for Handle to receive every
// packet that arrives from tr.
func New(sys *minithread.System, tr network.Transport, deliver network.Handler, opts ...Option) (*Router, error) {
	if sys == nil || tr == nil || deliver == nil {
		return nil, ErrInvalidParameter
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	self := cfg.nodeAddr
	if !self.IsValid() {
		self = tr.LocalAddr()
		if !routable(self) {
			return nil, fmt.Errorf("%w: transport address %v cannot identify this node, see WithNodeAddr", ErrInvalidParameter, self)
		}
	}
	limiter, err := newLimiter(cfg.rebroadcastLimits)
	if err != nil {
		return nil, err
	}
	x := &Router{
		sys:     sys,
		tr:      tr,
		self:    self,
		deliver: deliver,
		log:     cfg.logger,
		opts:    cfg,
		limiter: limiter,
		mu:      sys.NewSemaphore(1),
		cache:   make(map[network.Addr]route),
		pending: make(map[network.Addr]*discovery),
		seen:    make(map[seenKey]uint64),
	}
	if cfg.purgeInterval > 0 {
		x.schedulePurge()
	}
	return x, nil
}

func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidParameter, r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// LocalAddr implements network.Link, returning the address identifying
// this node in routes.
func (x *Router) LocalAddr() network.Addr {
	return x.self
}

// Stats returns a snapshot of the counters.
func (x *Router) Stats() Stats {
	prev := x.sys.DisableInterrupts()
	defer x.sys.RestoreInterrupts(prev)
	return x.stats
}

// Send implements network.Link, routing a packet to dst, discovering a route
// first if necessary. It blocks the calling minithread for the duration of
// any discovery, and returns ErrNoRoute if that fails.
func (x *Router) Send(dst network.Addr, hdr, payload []byte) error {
	if !dst.IsValid() || len(hdr) == 0 {
		return ErrInvalidParameter
	}
	path, err := x.route(dst)
	if err != nil {
		return err
	}

	prev := x.sys.DisableInterrupts()
	x.lastPktID++
	id := x.lastPktID
	x.sys.RestoreInterrupts(prev)

	rh := routingHeader{
		kind: kindData,
		dst:  dst,
		id:   id,
		ttl:  uint32(x.opts.maxRouteLength),
		path: path,
	}
	return x.tr.Send(nextHop(path, 0), append(rh.marshal(), hdr...), payload)
}

// route returns the path to dst, starting with this node.
func (x *Router) route(dst network.Addr) ([]network.Addr, error) {
	self := x.self
	if dst == self {
		return []network.Addr{self}, nil
	}

	x.mu.P()

	if path, ok := x.lookup(dst); ok {
		x.mu.V()
		return path, nil
	}

	if d := x.pending[dst]; d != nil {
		d.waiters++
		x.mu.V()
		d.release.P()
		x.mu.P()
		path, ok := x.lookup(dst)
		x.mu.V()
		if !ok {
			return nil, ErrNoRoute
		}
		return path, nil
	}

	d := &discovery{
		release: x.sys.NewSemaphore(0),
		reply:   x.sys.NewSemaphore(0),
	}
	prev := x.sys.DisableInterrupts()
	x.pending[dst] = d
	x.sys.RestoreInterrupts(prev)
	x.mu.V()

	path := x.discover(dst, d)

	x.mu.P()
	prev = x.sys.DisableInterrupts()
	delete(x.pending, dst)
	if path != nil {
		x.cache[dst] = route{path: path, found: x.sys.Ticks()}
	}
	x.sys.RestoreInterrupts(prev)
	for ; d.waiters > 0; d.waiters-- {
		d.release.V()
	}
	x.mu.V()

	if path == nil {
		return nil, ErrNoRoute
	}
	return path, nil
}

// lookup returns the cached route to dst, evicting it if stale. The caller
// must hold mu.
func (x *Router) lookup(dst network.Addr) ([]network.Addr, bool) {
	r, ok := x.cache[dst]
	if !ok {
		return nil, false
	}
	if x.sys.Ticks()-r.found > x.opts.staleness {
		delete(x.cache, dst)
		return nil, false
	}
	prev := x.sys.DisableInterrupts()
	x.stats.CacheHits++
	x.sys.RestoreInterrupts(prev)
	return r.path, true
}

// discover broadcasts discovery requests for dst until one is answered, or
// the retries are exhausted, in which case it returns nil.
func (x *Router) discover(dst network.Addr, d *discovery) []network.Addr {
	self := x.self
	for attempt := 1; attempt <= x.opts.discoveryRetries; attempt++ {
		prev := x.sys.DisableInterrupts()
		x.lastReqID++
		d.id = x.lastReqID
		d.signalled = false
		d.path = nil
		x.stats.Discoveries++
		x.sys.RestoreInterrupts(prev)

		rh := routingHeader{
			kind: kindDiscovery,
			dst:  dst,
			id:   d.id,
			ttl:  uint32(x.opts.maxRouteLength),
			path: []network.Addr{self},
		}
		if err := x.tr.Broadcast(rh.marshal(), nil); err != nil {
			x.log.Warning().
				Err(err).
				Stringer("dst", dst).
				Log("miniroute: discovery broadcast failed")
		}

		alarm := x.sys.RegisterAlarm(x.opts.discoveryTimeout, func() {
			if !d.signalled {
				d.signalled = true
				d.reply.V()
			}
		})
		d.reply.P()
		x.sys.DeregisterAlarm(alarm)

		prev = x.sys.DisableInterrupts()
		path := d.path
		x.sys.RestoreInterrupts(prev)

		if path != nil {
			x.log.Debug().
				Stringer("dst", dst).
				Int("hops", len(path)-1).
				Int("attempt", attempt).
				Log("miniroute: route discovered")
			return path
		}
		x.log.Debug().
			Stringer("dst", dst).
			Int("attempt", attempt).
			Log("miniroute: discovery timed out")
	}
	x.log.Warning().
		Stringer("dst", dst).
		Int("attempts", x.opts.discoveryRetries).
		Log("miniroute: no route to destination")
	return nil
}

// Purge evicts every stale route, and forgets discovery requests old enough
// that they can no longer be circulating. It returns the number of routes
// evicted. It must be called by a running minithread.
func (x *Router) Purge() int {
	x.mu.P()
	defer x.mu.V()
	now := x.sys.Ticks()
	var n int
	for dst, r := range x.cache {
		if now-r.found > x.opts.staleness {
			delete(x.cache, dst)
			n++
		}
	}
	prev := x.sys.DisableInterrupts()
	x.expireSeen(now)
	x.sys.RestoreInterrupts(prev)
	if n != 0 {
		x.log.Debug().
			Int("routes", n).
			Log("miniroute: purged stale routes")
	}
	return n
}

// seenSweepSize is the size of the duplicate suppression table at which the
// arrival handler expires old entries.
const seenSweepSize = 256

// seenHorizon is how long, in ticks, a discovery request may still be
// circulating.
func (x *Router) seenHorizon() uint64 {
	return x.opts.discoveryTimeout * uint64(x.opts.discoveryRetries)
}

// expireSeen must be called with interrupts disabled.
func (x *Router) expireSeen(now uint64) {
	horizon := x.seenHorizon()
	for k, at := range x.seen {
		if now-at > horizon {
			delete(x.seen, k)
		}
	}
}

func (x *Router) schedulePurge() {
	x.sys.RegisterAlarm(x.opts.purgeInterval, func() {
		if _, err := x.sys.Fork(func() { x.Purge() }); err != nil {
			x.log.Warning().
				Err(err).
				Log("miniroute: failed to fork purge")
		}
		x.schedulePurge()
	})
}

func nextHop(path []network.Addr, i int) network.Addr {
	if i+1 < len(path) {
		return path[i+1]
	}
	return path[i]
}

func reversed(path []network.Addr) []network.Addr {
	v := slices.Clone(path)
	slices.Reverse(v)
	return v
}
