package minisocket

// transmit sends a packet of the given kind, retransmitting it with a
// doubling timeout until it is acknowledged. If increment is set, the
// sequence number is advanced first, and rolled back on failure.
//
// Returns errExhausted once the timeout would exceed the ceiling, or
// errAborted if the socket starts closing, or the peer closes.
func (s *Socket) transmit(kind msgType, increment bool, payload []byte) error {
	m := s.m
	sys := m.sys

	prev := sys.DisableInterrupts()
	if increment {
		s.seq++
	}
	hdr := s.header(kind)
	s.timeout = m.opts.initialTimeout
	sys.RestoreInterrupts(prev)

	expect := msgACK
	if kind == msgSYN {
		expect = msgSYNACK
	}
	b := hdr.marshal()

	fail := func(err error) error {
		prev := sys.DisableInterrupts()
		if increment {
			s.seq--
		}
		s.timeout = m.opts.initialTimeout
		sys.RestoreInterrupts(prev)
		return err
	}

	for attempt := 1; ; attempt++ {
		w := &waiter{expect: expect}

		prev = sys.DisableInterrupts()
		if s.aborted() {
			sys.RestoreInterrupts(prev)
			return fail(errAborted)
		}
		s.wait = w
		timeout := s.timeout
		if attempt > 1 {
			m.stats.Retransmissions++
		}
		sys.RestoreInterrupts(prev)

		if err := m.link.Send(hdr.dst, b, payload); err != nil {
			m.log.Debug().
				Err(err).
				Int("port", s.port).
				Stringer("kind", kind).
				Log("minisocket: send failed")
		}

		alarm := sys.RegisterAlarm(timeout, func() {
			if !w.done {
				w.done = true
				s.ackSem.V()
			}
		})
		s.ackSem.P()
		sys.DeregisterAlarm(alarm)

		prev = sys.DisableInterrupts()
		if s.wait == w {
			s.wait = nil
		}
		acked := w.acked
		aborted := s.aborted()
		if !acked && !aborted {
			s.timeout *= 2
		}
		next := s.timeout
		sys.RestoreInterrupts(prev)

		switch {
		case acked:
			prev = sys.DisableInterrupts()
			s.timeout = m.opts.initialTimeout
			sys.RestoreInterrupts(prev)
			return nil
		case aborted:
			return fail(errAborted)
		case next > m.opts.maxTimeout:
			m.log.Debug().
				Int("port", s.port).
				Stringer("kind", kind).
				Int("attempts", attempt).
				Log("minisocket: retransmissions exhausted")
			return fail(errExhausted)
		}

		m.log.Trace().
			Int("port", s.port).
			Stringer("kind", kind).
			Uint64("timeout", next).
			Log("minisocket: retransmitting")
	}
}
