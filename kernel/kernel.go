// Package kernel assembles a minithreads node: the thread system, a network
// transport, optional multi-hop routing, datagram ports, and reliable
// sockets.
package kernel

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/joeycumines/go-minithreads/miniroute"
	"github.com/joeycumines/go-minithreads/minimsg"
	"github.com/joeycumines/go-minithreads/minisocket"
	"github.com/joeycumines/go-minithreads/minithread"
	"github.com/joeycumines/go-minithreads/network"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidParameter indicates a nil transport.
var ErrInvalidParameter = errors.New("kernel: invalid parameter")

// Kernel is one node. Its layers are initialized in dependency order: the
// System (which owns the alarm queue), then the link over the transport,
// then ports and sockets. Packets are only delivered once Run starts.
type Kernel struct {
	sys     *minithread.System
	tr      network.Transport
	link    network.Link
	router  *miniroute.Router
	mux     *network.Mux
	ports   *minimsg.Ports
	sockets *minisocket.Sockets
	log     *logiface.Logger[logiface.Event]
	pump    *network.PumpConfig
}

// New creates a node communicating over tr.
func New(tr network.Transport, opts ...Option) (*Kernel, error) {
	if tr == nil {
		return nil, ErrInvalidParameter
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	x := &Kernel{
		tr:   tr,
		mux:  network.NewMux(cfg.logger),
		log:  cfg.logger,
		pump: cfg.pump,
	}

	if x.sys, err = minithread.New(append([]minithread.Option{minithread.WithLogger(cfg.logger)}, cfg.system...)...); err != nil {
		return nil, err
	}

	if cfg.routing {
		if x.router, err = miniroute.New(x.sys, tr, x.mux.Dispatch, append([]miniroute.Option{miniroute.WithLogger(cfg.logger)}, cfg.router...)...); err != nil {
			return nil, err
		}
		x.link = x.router
	} else {
		x.link = network.Direct{Transport: tr}
	}

	if x.ports, err = minimsg.New(x.sys, x.link, append([]minimsg.Option{minimsg.WithLogger(cfg.logger)}, cfg.ports...)...); err != nil {
		return nil, err
	}
	if x.sockets, err = minisocket.New(x.sys, x.link, append([]minisocket.Option{minisocket.WithLogger(cfg.logger)}, cfg.sockets...)...); err != nil {
		return nil, err
	}
	x.mux.Handle(network.ProtocolDatagram, x.ports.Handle)
	x.mux.Handle(network.ProtocolStream, x.sockets.Handle)

	return x, nil
}

// System returns the thread system.
func (x *Kernel) System() *minithread.System { return x.sys }

// Transport returns the underlying transport.
func (x *Kernel) Transport() network.Transport { return x.tr }

// Link returns the link used by ports and sockets, which is the Router if
// routing is enabled.
func (x *Kernel) Link() network.Link { return x.link }

// Router returns the router, or nil if routing is disabled.
func (x *Kernel) Router() *miniroute.Router { return x.router }

// Ports returns the datagram port registry.
func (x *Kernel) Ports() *minimsg.Ports { return x.ports }

// Sockets returns the socket registry.
func (x *Kernel) Sockets() *minisocket.Sockets { return x.sockets }

// Run delivers arrived packets as interrupts, and runs main as the first
// minithread, returning once main returns, or ctx is done. The transport is
// not closed.
func (x *Kernel) Run(ctx context.Context, main func()) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler := x.mux.Dispatch
	if x.router != nil {
		handler = x.router.Handle
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := network.Pump(ctx, x.sys, x.pump, x.tr.Packets(), handler); err != nil && !errors.Is(err, context.Canceled) {
			x.log.Err().
				Err(err).
				Log("kernel: packet pump stopped")
		}
		return nil
	})

	x.log.Info().
		Stringer("addr", x.link.LocalAddr()).
		Bool("routing", x.router != nil).
		Log("kernel: starting")

	err := x.sys.Run(ctx, main)
	cancel()
	_ = g.Wait()
	return err
}

// NewLogger returns a JSON logger writing to w, logging at level and above.
func NewLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&syncWriter{w: w})),
		stumpy.L.WithLevel(level),
	).Logger()
}

// syncWriter serializes writes from the transport goroutines and the
// minithreads.
type syncWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func (x *syncWriter) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.w.Write(p)
}
