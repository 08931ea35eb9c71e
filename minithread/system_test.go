package minithread

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSystem(t *testing.T, opts ...Option) (*System, *ManualClock) {
	t.Helper()
	clock := NewManualClock(time.Millisecond)
	sys, err := New(append([]Option{WithClock(clock), WithSeed(1)}, opts...)...)
	require.NoError(t, err)
	return sys, clock
}

// runAsync runs sys in the background, returning a channel receiving the
// result of Run.
func runAsync(sys *System, main func()) <-chan error {
	done := make(chan error, 1)
	go func() { done <- sys.Run(context.Background(), main) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_invalidOptions(t *testing.T) {
	_, err := New(WithQuanta(1, 2))
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = New(WithQuanta(0, 1, 2, 3))
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = New(WithLevelWeights(0, 0, 0, 0))
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = New(WithClock(nil))
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = New(nil, WithQuanta(1, 1), WithLevelWeights(1, 1))
	assert.NoError(t, err)
}

func TestSystem_Run_mainReturns(t *testing.T) {
	sys, _ := newTestSystem(t)
	var ran bool
	require.NoError(t, wait(t, runAsync(sys, func() { ran = true })))
	assert.True(t, ran)
	assert.Equal(t, StateTerminated, sys.State())
	assert.ErrorIs(t, sys.Run(context.Background(), func() {}), ErrAlreadyRunning)
}

func TestSystem_Run_nilMain(t *testing.T) {
	sys, _ := newTestSystem(t)
	assert.ErrorIs(t, sys.Run(context.Background(), nil), ErrInvalidParameter)
}

func TestSystem_Run_contextCancel(t *testing.T) {
	sys, _ := newTestSystem(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var blocked atomic.Bool
	go func() {
		done <- sys.Run(ctx, func() {
			sem := sys.NewSemaphore(0)
			if _, err := sys.Fork(func() { sem.P() }); err != nil {
				panic(err)
			}
			blocked.Store(true)
			sem.P()
			t.Error("unreachable")
		})
	}()
	waitFor(t, blocked.Load)
	cancel()
	assert.ErrorIs(t, wait(t, done), context.Canceled)
	assert.Equal(t, StateTerminated, sys.State())
}

func TestSystem_Run_mainPanics(t *testing.T) {
	sys, _ := newTestSystem(t)
	cause := errors.New("some cause")
	err := wait(t, runAsync(sys, func() { panic(cause) }))
	var pe PanicError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, cause)
}

func TestSystem_Fork_drainsReadyQueues(t *testing.T) {
	const n = 25
	sys, _ := newTestSystem(t)
	var stats Stats
	var ran atomic.Int32
	require.NoError(t, wait(t, runAsync(sys, func() {
		for i := 0; i < n; i++ {
			_, err := sys.Fork(func() { ran.Add(1) })
			require.NoError(t, err)
		}
		for i := 0; i < 10000 && (ran.Load() < n || sys.Stats().ReadyTotal() != 0); i++ {
			sys.Yield()
		}
		stats = sys.Stats()
	})))
	assert.Equal(t, int32(n), ran.Load())
	assert.Equal(t, 0, stats.ReadyTotal())
	assert.GreaterOrEqual(t, stats.Exited, uint64(n))
}

func TestSystem_Fork_nilProc(t *testing.T) {
	sys, _ := newTestSystem(t)
	require.NoError(t, wait(t, runAsync(sys, func() {
		th, err := sys.Fork(nil)
		assert.Nil(t, th)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})))
}

func TestSystem_Fork_outOfMemory(t *testing.T) {
	sys, _ := newTestSystem(t, WithMaxThreads(2))
	require.NoError(t, wait(t, runAsync(sys, func() {
		th, err := sys.Fork(func() {})
		require.NoError(t, err)
		require.NotNil(t, th)
		th2, err := sys.Fork(func() {})
		assert.Nil(t, th2)
		assert.ErrorIs(t, err, ErrOutOfMemory)
	})))
}

func TestSystem_Fork_reclaimsAtLimit(t *testing.T) {
	sys, _ := newTestSystem(t, WithMaxThreads(3))
	var ran atomic.Int32
	require.NoError(t, wait(t, runAsync(sys, func() {
		for i := 0; i < 2*DefaultReclaimThreshold; i++ {
			done := sys.NewSemaphore(0)
			_, err := sys.Fork(func() {
				ran.Add(1)
				done.V()
			})
			require.NoError(t, err, "fork %d", i)
			done.P()
			// let the thread finish
			for j := 0; j < 100 && sys.Stats().Exited < uint64(i+1); j++ {
				sys.Yield()
			}
		}
	})))
	assert.Equal(t, int32(2*DefaultReclaimThreshold), ran.Load())
	assert.NotZero(t, sys.Stats().Reclaimed)
}

func TestSystem_reclamation(t *testing.T) {
	sys, _ := newTestSystem(t)
	var stats Stats
	require.NoError(t, wait(t, runAsync(sys, func() {
		for i := 0; i < DefaultReclaimThreshold+1; i++ {
			_, err := sys.Fork(func() {})
			require.NoError(t, err)
		}
		for i := 0; i < 10000 && sys.Stats().Reclaimed < DefaultReclaimThreshold+1; i++ {
			sys.Yield()
		}
		stats = sys.Stats()
	})))
	assert.Equal(t, uint64(DefaultReclaimThreshold+1), stats.Reclaimed)
	// main, plus the reclamation thread itself, once finished
	assert.LessOrEqual(t, stats.Live, 2)
}

func TestSystem_Self(t *testing.T) {
	sys, _ := newTestSystem(t)
	require.NoError(t, wait(t, runAsync(sys, func() {
		main := sys.Self()
		require.NotNil(t, main)
		assert.Equal(t, uint64(1), sys.ID())
		assert.Equal(t, ThreadRunning, main.State())
		done := sys.NewSemaphore(0)
		child, err := sys.Fork(func() {
			assert.NotEqual(t, main.ID(), sys.ID())
			assert.Equal(t, ThreadReady, main.State())
			done.V()
		})
		require.NoError(t, err)
		assert.Greater(t, child.ID(), main.ID())
		assert.Equal(t, ThreadReady, child.State())
		sys.Yield()
		done.P()
		assert.Equal(t, ThreadFinished, child.State())
	})))
}

func TestSystem_StopStart(t *testing.T) {
	sys, _ := newTestSystem(t)
	var steps []string
	require.NoError(t, wait(t, runAsync(sys, func() {
		child, err := sys.Fork(func() {
			steps = append(steps, "stopping")
			sys.Stop()
			steps = append(steps, "started")
		})
		require.NoError(t, err)
		for i := 0; i < 10000 && child.State() != ThreadBlocked; i++ {
			sys.Yield()
		}
		require.Equal(t, ThreadBlocked, child.State())
		assert.Equal(t, []string{"stopping"}, steps)

		require.NoError(t, sys.Start(child))
		assert.Equal(t, ThreadReady, child.State())
		assert.ErrorIs(t, sys.Start(child), ErrInvalidParameter)
		for i := 0; i < 10000 && child.State() != ThreadFinished; i++ {
			sys.Yield()
		}
		assert.Equal(t, []string{"stopping", "started"}, steps)
	})))
}

func TestSystem_Start_invalid(t *testing.T) {
	sys, _ := newTestSystem(t)
	require.NoError(t, wait(t, runAsync(sys, func() {
		assert.ErrorIs(t, sys.Start(nil), ErrInvalidParameter)
		assert.ErrorIs(t, sys.Start(sys.Self()), ErrInvalidParameter)

		ready, err := sys.Fork(func() {})
		require.NoError(t, err)
		assert.ErrorIs(t, sys.Start(ready), ErrInvalidParameter)

		sem := sys.NewSemaphore(0)
		waiter, err := sys.Fork(func() { sem.P() })
		require.NoError(t, err)
		for i := 0; i < 10000 && sem.Waiting() == 0; i++ {
			sys.Yield()
		}
		require.Equal(t, ThreadBlocked, waiter.State())
		assert.ErrorIs(t, sys.Start(waiter), ErrInvalidParameter)
		assert.Equal(t, 1, sem.Waiting())
		sem.V()
	})))
}

func TestSystem_Create(t *testing.T) {
	sys, _ := newTestSystem(t)
	var ran atomic.Bool
	require.NoError(t, wait(t, runAsync(sys, func() {
		_, err := sys.Create(nil)
		assert.ErrorIs(t, err, ErrInvalidParameter)

		done := sys.NewSemaphore(0)
		th, err := sys.Create(func() {
			ran.Store(true)
			done.V()
		})
		require.NoError(t, err)
		assert.Equal(t, ThreadBlocked, th.State())
		for i := 0; i < 10; i++ {
			sys.Yield()
		}
		assert.False(t, ran.Load())

		require.NoError(t, sys.Start(th))
		done.P()
	})))
	assert.True(t, ran.Load())
}

func TestSystem_Exit(t *testing.T) {
	sys, _ := newTestSystem(t)
	var deferred, after atomic.Bool
	require.NoError(t, wait(t, runAsync(sys, func() {
		done := sys.NewSemaphore(0)
		_, err := sys.Fork(func() {
			defer done.V()
			defer deferred.Store(true)
			sys.Exit()
			after.Store(true)
		})
		require.NoError(t, err)
		done.P()
	})))
	assert.True(t, deferred.Load())
	assert.False(t, after.Load())
}

func TestSystem_preemptionDemotes(t *testing.T) {
	sys, clock := newTestSystem(t)
	// packs ticks and level, so the test reads a consistent pair
	var observed atomic.Uint64
	var stop, started atomic.Bool
	done := runAsync(sys, func() {
		finished := sys.NewSemaphore(0)
		_, err := sys.Fork(func() {
			defer finished.V()
			self := sys.Self()
			started.Store(true)
			for !stop.Load() {
				observed.Store(sys.Ticks()<<8 | uint64(self.Level()))
				sys.Checkpoint()
			}
		})
		require.NoError(t, err)
		finished.P()
	})

	waitFor(t, started.Load)
	want := []uint64{1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 3, 3, 3, 3, 3}
	var prev uint64
	for i, level := range want {
		clock.Tick(1)
		tick := uint64(i + 1)
		waitFor(t, func() bool { return observed.Load()>>8 >= tick })
		got := observed.Load() & 0xff
		if got != level {
			t.Fatalf("after tick %d: level %d, want %d", tick, got, level)
		}
		if got < prev {
			t.Fatalf("after tick %d: level decreased from %d to %d", tick, prev, got)
		}
		prev = got
	}
	stop.Store(true)
	require.NoError(t, wait(t, done))
}

func TestSystem_preemptionSharesCPU(t *testing.T) {
	sys, err := New(WithClock(NewTickerClock(time.Millisecond)), WithSeed(7))
	require.NoError(t, err)
	var a, b atomic.Int64
	var stop atomic.Bool
	done := runAsync(sys, func() {
		finished := sys.NewSemaphore(0)
		spin := func(counter *atomic.Int64) func() {
			return func() {
				defer finished.V()
				for !stop.Load() {
					counter.Add(1)
					sys.Checkpoint()
				}
			}
		}
		_, err := sys.Fork(spin(&a))
		require.NoError(t, err)
		_, err = sys.Fork(spin(&b))
		require.NoError(t, err)
		finished.P()
		finished.P()
	})
	waitFor(t, func() bool { return a.Load() > 1000 && b.Load() > 1000 })
	stop.Store(true)
	require.NoError(t, wait(t, done))
}

func TestSystem_interruptLevelNesting(t *testing.T) {
	sys, _ := newTestSystem(t)
	require.NoError(t, wait(t, runAsync(sys, func() {
		assert.Equal(t, Enabled, sys.InterruptLevel())
		p1 := sys.DisableInterrupts()
		assert.Equal(t, Enabled, p1)
		p2 := sys.DisableInterrupts()
		assert.Equal(t, Disabled, p2)
		sys.RestoreInterrupts(p2)
		assert.Equal(t, Disabled, sys.InterruptLevel())
		sys.RestoreInterrupts(p1)
		assert.Equal(t, Enabled, sys.InterruptLevel())
	})))
}

func TestSystem_interruptDeferredWhileDisabled(t *testing.T) {
	sys, _ := newTestSystem(t)
	require.NoError(t, wait(t, runAsync(sys, func() {
		var handled bool
		prev := sys.DisableInterrupts()
		sys.Interrupt(func() { handled = true })
		sys.Checkpoint()
		assert.False(t, handled)
		sys.RestoreInterrupts(prev)
		assert.True(t, handled)
	})))
}

func TestSystem_Interrupt_wakesIdleSystem(t *testing.T) {
	sys, _ := newTestSystem(t)
	var waiting atomic.Pointer[Semaphore]
	done := runAsync(sys, func() {
		sem := sys.NewSemaphore(0)
		waiting.Store(sem)
		sem.P()
	})
	waitFor(t, func() bool { return waiting.Load() != nil })
	sem := waiting.Load()
	sys.Interrupt(func() {
		assert.Equal(t, Disabled, sys.InterruptLevel())
		sem.V()
	})
	require.NoError(t, wait(t, done))
}

func TestSystem_handlerPanicRecovered(t *testing.T) {
	sys, _ := newTestSystem(t)
	require.NoError(t, wait(t, runAsync(sys, func() {
		var after bool
		sys.Interrupt(func() { panic("boom") })
		sys.Interrupt(func() { after = true })
		sys.Checkpoint()
		assert.True(t, after)
	})))
}
