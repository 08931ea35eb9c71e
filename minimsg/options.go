package minimsg

import (
	"github.com/joeycumines/logiface"
)

type portsOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// Option configures Ports.
type Option interface {
	applyPorts(*portsOptions) error
}

type optionImpl struct {
	applyPortsFunc func(*portsOptions) error
}

func (o *optionImpl) applyPorts(opts *portsOptions) error {
	return o.applyPortsFunc(opts)
}

// WithLogger sets the logger, which may be nil.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *portsOptions) error {
		opts.logger = logger
		return nil
	}}
}

func resolveOptions(opts []Option) (*portsOptions, error) {
	cfg := &portsOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPorts(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
