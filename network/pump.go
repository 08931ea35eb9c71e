package network

import (
	"context"
	"errors"
	"io"

	"github.com/joeycumines/go-longpoll"
)

// Interrupter posts interrupt handlers, as implemented by
// *minithread.System.
type Interrupter interface {
	Interrupt(fn func())
}

// PumpConfig models optional configuration for Pump.
type PumpConfig struct {
	// MaxBatch is the maximum number of packets handled per interrupt.
	// Defaults to 32, if 0.
	MaxBatch int
}

// Pump receives packets until ctx is done or packets is closed, posting
// each batch of arrivals as a single interrupt, that passes them to handler
// in arrival order. The cfg parameter may be nil.
//
// Returns nil if packets was closed, otherwise the context's error.
func Pump(ctx context.Context, sys Interrupter, cfg *PumpConfig, packets <-chan Packet, handler Handler) error {
	if sys == nil || handler == nil {
		panic(`network: nil interrupter or handler`)
	}
	maxBatch := 32
	if cfg != nil && cfg.MaxBatch != 0 {
		maxBatch = cfg.MaxBatch
	}
	poll := &longpoll.ChannelConfig{
		MinSize: 1,
		MaxSize: maxBatch,
	}
	for {
		var batch []Packet
		err := longpoll.Channel(ctx, poll, packets, func(pkt Packet) error {
			batch = append(batch, pkt)
			return nil
		})
		if len(batch) != 0 {
			sys.Interrupt(func() {
				for _, pkt := range batch {
					handler(pkt)
				}
			})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
