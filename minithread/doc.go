// Package minithread implements user-level threads on a single simulated
// CPU: a multilevel feedback scheduler, preemption driven by a periodic clock
// interrupt, alarms, and counting semaphores.
//
// # Execution model
//
// Every Thread is backed by a goroutine, but only the goroutine of the
// running thread executes; a context switch hands the CPU to the next
// goroutine and parks the current one. Interrupts (clock ticks, network
// arrivals, device completions) are posted from other goroutines with
// System.Interrupt, and delivered on the CPU at safe points: when the
// interrupt level becomes Enabled, on Yield, on Checkpoint, and while idle.
// A clock interrupt preempts the running thread once its quantum expires.
//
// Threads that compute for long periods without calling into the System
// should call Checkpoint, so they can be preempted.
//
// # Scheduling
//
// There are four feedback levels by default, with quanta of 1, 2, 4 and 8
// ticks. New threads start at level 0. A thread that exhausts its quantum is
// demoted one level (down to the last). Each search of the ready queues
// starts at a level chosen at random, weighted 50/25/15/10, then wraps.
//
// Finished threads are reclaimed in batches: once more than ten are waiting,
// a reclamation thread is forked to release them. A Fork that would exceed
// WithMaxThreads reclaims any finished threads immediately.
//
// Besides Semaphore, threads may be suspended directly: Stop blocks the
// running thread, and Start readies it again. Create makes a thread that
// waits for Start before it first runs.
//
// # Critical sections
//
// State shared with interrupt handlers must only be mutated with interrupts
// disabled:
//
//	prev := sys.DisableInterrupts()
//	defer sys.RestoreInterrupts(prev)
package minithread
