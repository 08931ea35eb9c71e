package minithread

import (
	"context"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-minithreads/alarm"
	"github.com/joeycumines/go-minithreads/internal/ring"
	"github.com/joeycumines/logiface"
)

// System is the runtime handle: a single simulated CPU, multiplexed between
// minithreads, with a clock, an alarm store, and a pending interrupt queue.
//
// Exactly one goroutine executes thread or handler code at a time. Unless
// documented otherwise, methods must only be called by a running thread (or
// an interrupt handler), never from other goroutines. Interrupt is the entry
// point for everything else.
type System struct {
	opts   *systemOptions
	log    *logiface.Logger[logiface.Event]
	alarms *alarm.Queue
	rand   *rand.Rand

	// fields below are owned by whichever goroutine holds the CPU
	current  *Thread
	main     *Thread
	mainErr  error
	ready    []ring.Ring[*Thread]
	finished []*Thread
	quantum  int
	level    Level
	ticks    uint64
	lastID   uint64
	live     int
	stats    Stats

	// interrupt delivery, safe for concurrent use
	irqMu        sync.Mutex
	irqs         ring.Ring[func()]
	irqCount     atomic.Int64
	pendingTicks atomic.Int64
	irqWake      chan struct{}

	state    fastState
	halt     chan struct{}
	mainDone chan struct{}
	wg       sync.WaitGroup
}

// New creates a System. It does nothing until Run is called.
func New(opts ...Option) (*System, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	seed := cfg.seed
	if !cfg.seeded {
		seed = uint64(time.Now().UnixNano())
	}
	s := &System{
		opts:     cfg,
		log:      cfg.logger,
		alarms:   alarm.New(),
		rand:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ready:    make([]ring.Ring[*Thread], len(cfg.quanta)),
		level:    Disabled,
		irqWake:  make(chan struct{}, 1),
		halt:     make(chan struct{}),
		mainDone: make(chan struct{}),
	}
	return s, nil
}

// State returns the lifecycle state. Safe for concurrent use.
func (s *System) State() SystemState {
	return s.state.Load()
}

// Logger returns the configured logger, which may be nil.
func (s *System) Logger() *logiface.Logger[logiface.Event] {
	return s.log
}

// TickPeriod returns the nominal duration of one tick.
func (s *System) TickPeriod() time.Duration {
	return s.opts.clock.Period()
}

// Run starts the clock and runs main as the first thread, returning once main
// returns, or ctx is done. Every other thread is halted before Run returns.
//
// Run returns nil if main returned normally, a PanicError if main panicked,
// or the context's error.
func (s *System) Run(ctx context.Context, main func()) error {
	if main == nil {
		return ErrInvalidParameter
	}
	if !s.state.TryTransition(StateAwake, StateRunning) {
		return ErrAlreadyRunning
	}

	s.lastID++
	t := s.newThread(s.lastID, main)
	s.live++
	s.stats.Forked++
	s.main = t
	s.dispatch(t)
	s.spawn(t)

	stop := s.opts.clock.Start(s.postTick)

	s.log.Info().
		Int("levels", len(s.opts.quanta)).
		Dur("tick", s.opts.clock.Period()).
		Log("minithread: system started")

	t.resume <- struct{}{}

	var err error
	select {
	case <-s.mainDone:
		err = s.mainErr
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.state.Store(StateTerminating)
	stop()
	close(s.halt)
	s.wg.Wait()
	s.state.Store(StateTerminated)

	s.log.Info().
		Err(err).
		Log("minithread: system stopped")

	return err
}

// Interrupt posts fn to run as an interrupt handler, on the CPU, with
// interrupts disabled. It is safe to call from any goroutine. Handlers must
// not block.
func (s *System) Interrupt(fn func()) {
	if fn == nil {
		return
	}
	s.irqMu.Lock()
	s.irqs.PushBack(fn)
	s.irqMu.Unlock()
	s.irqCount.Add(1)
	s.kick()
}

func (s *System) postTick() {
	s.pendingTicks.Add(1)
	s.irqCount.Add(1)
	s.kick()
}

func (s *System) kick() {
	select {
	case s.irqWake <- struct{}{}:
	default:
	}
}

func (s *System) popInterrupt() func() {
	if s.pendingTicks.Load() > 0 {
		s.pendingTicks.Add(-1)
		s.irqCount.Add(-1)
		return s.tick
	}
	s.irqMu.Lock()
	fn, ok := s.irqs.PopFront()
	s.irqMu.Unlock()
	if !ok {
		return nil
	}
	s.irqCount.Add(-1)
	return fn
}

// InterruptLevel returns the current interrupt level.
func (s *System) InterruptLevel() Level {
	return s.level
}

// SetInterruptLevel sets the interrupt level, returning the previous level.
// Pending interrupts are delivered when the level becomes Enabled.
func (s *System) SetInterruptLevel(l Level) Level {
	prev := s.level
	s.level = l
	if l == Enabled && prev != Enabled {
		s.deliver()
	}
	return prev
}

// DisableInterrupts disables interrupts, returning the previous level, which
// must be passed to RestoreInterrupts. Regions nest.
//
//	prev := sys.DisableInterrupts()
//	defer sys.RestoreInterrupts(prev)
func (s *System) DisableInterrupts() Level {
	return s.SetInterruptLevel(Disabled)
}

// RestoreInterrupts restores the level returned by DisableInterrupts.
func (s *System) RestoreInterrupts(prev Level) {
	s.SetInterruptLevel(prev)
}

// Checkpoint is a safe point for threads that compute without making other
// calls into the System: pending interrupts are delivered (which may
// preempt the caller). A halted system terminates the calling thread.
func (s *System) Checkpoint() {
	s.checkOwner()
	if s.halted() {
		runtime.Goexit()
	}
	if s.level == Enabled {
		s.deliver()
	}
}

// deliver runs pending interrupt handlers while interrupts are enabled.
func (s *System) deliver() {
	for s.level == Enabled && s.irqCount.Load() > 0 && !s.halted() {
		fn := s.popInterrupt()
		if fn == nil {
			return
		}
		s.level = Disabled
		s.safeExecute("interrupt", fn)
		s.level = Enabled
	}
}

// idle waits for at least one interrupt, and delivers it. Called with
// interrupts disabled, when nothing is ready.
func (s *System) idle() {
	s.stats.Idles++
	for s.irqCount.Load() <= 0 {
		select {
		case <-s.irqWake:
		case <-s.halt:
			runtime.Goexit()
		}
	}
	prev := s.level
	s.level = Enabled
	s.deliver()
	s.level = prev
}

// tick is the clock interrupt handler.
func (s *System) tick() {
	s.ticks++
	s.stats.Ticks++
	s.alarms.Advance(s.ticks)

	if s.quantum > 0 {
		s.quantum--
	}
	if s.quantum > 0 {
		return
	}

	cur := s.current
	if cur == nil || cur.state != ThreadRunning {
		return
	}
	if cur.level < len(s.ready)-1 {
		cur.level++
	}
	cur.state = ThreadReady
	s.ready[cur.level].PushBack(cur)
	next := s.next()
	if next != cur {
		s.stats.Preemptions++
	}
	s.switchTo(cur, next)
}

// Ticks returns the number of clock ticks handled so far.
func (s *System) Ticks() uint64 {
	return s.ticks
}

func (s *System) halted() bool {
	select {
	case <-s.halt:
		return true
	default:
		return false
	}
}

func (s *System) checkOwner() {
	if !s.opts.ownershipChecks || s.current == nil {
		return
	}
	if id := goroutineID(); id != s.current.gid {
		panic("minithread: blocking call from a goroutine that does not hold the CPU")
	}
}

// safeExecute runs fn with panic recovery.
func (s *System) safeExecute(source string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Err().
				Err(PanicError{Value: r, Source: source}).
				Log("minithread: recovered panic")
		}
	}()
	fn()
}
